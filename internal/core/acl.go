package core

import (
	"fmt"

	"daoforge/internal/permissions"
	"daoforge/pkg/domain"
)

// aclWriter mutates one organization's ACL inside a ledger transaction,
// enforcing the same authorization rules as the on-ledger ACL: creating a
// permission needs CREATE_PERMISSIONS_ROLE, every other change needs the
// permission's manager.
type aclWriter struct {
	tx  Transaction
	org Organization
}

func newACLWriter(tx Transaction, org Organization) *aclWriter {
	return &aclWriter{tx: tx, org: org}
}

// resource checks that ref names a component of the organization.
func (a *aclWriter) resource(ref domain.Ref, role domain.Role) error {
	if !role.ValidFor(ref.Kind) {
		return fmt.Errorf("acl: %s on %s: %w", role, ref, domain.ErrACLRoleKindMismatch)
	}
	c, ok := a.tx.FindComponent(ref.Address)
	if !ok || c.Org != a.org.Address {
		return fmt.Errorf("acl: %s is not a component of %s", ref, a.org.Address)
	}
	if c.Kind != ref.Kind {
		return fmt.Errorf("acl: %s is a %s: %w", ref, c.Kind, domain.ErrACLRoleKindMismatch)
	}
	return nil
}

func (a *aclWriter) canCreate(actor Address) bool {
	p, ok := a.tx.FindPermission(PermissionKey{Resource: a.org.ACL, Role: domain.RoleCreatePermissions})
	return ok && p.Holds(actor)
}

func (a *aclWriter) managed(actor Address, key PermissionKey) (Permission, error) {
	p, ok := a.tx.FindPermission(key)
	if !ok {
		return Permission{}, fmt.Errorf("acl: %s: permission does not exist: %w", key, domain.ErrACLOnlyManager)
	}
	if p.Manager != actor {
		return Permission{}, fmt.Errorf("acl: %s: %w", key, domain.ErrACLOnlyManager)
	}
	return p, nil
}

// Create opens a permission with a single grantee and its manager.
func (a *aclWriter) Create(actor Address, ref domain.Ref, role domain.Role, entity, manager Address) error {
	if err := a.resource(ref, role); err != nil {
		return err
	}
	if !a.canCreate(actor) {
		return fmt.Errorf("acl: create %s/%s: %w", ref, role, domain.ErrACLAuthFailed)
	}
	key := PermissionKey{Resource: ref.Address, Role: role}
	if _, exists := a.tx.FindPermission(key); exists {
		return fmt.Errorf("acl: create %s: %w", key, domain.ErrACLExistentManager)
	}
	if manager.IsZero() || entity.IsZero() {
		return fmt.Errorf("acl: create %s: manager and grantee are required", key)
	}
	return a.tx.PutPermission(Permission{Resource: ref.Address, Role: role, Manager: manager, Grantees: []Address{entity}})
}

// Grant adds entity to an existing permission.
func (a *aclWriter) Grant(actor Address, ref domain.Ref, role domain.Role, entity Address) error {
	if err := a.resource(ref, role); err != nil {
		return err
	}
	p, err := a.managed(actor, PermissionKey{Resource: ref.Address, Role: role})
	if err != nil {
		return err
	}
	if p.GrantedTo(entity) {
		return nil
	}
	p.Grantees = append(p.Grantees, entity)
	return a.tx.PutPermission(p)
}

// Revoke removes entity from an existing permission. The manager stays.
func (a *aclWriter) Revoke(actor Address, ref domain.Ref, role domain.Role, entity Address) error {
	if err := a.resource(ref, role); err != nil {
		return err
	}
	p, err := a.managed(actor, PermissionKey{Resource: ref.Address, Role: role})
	if err != nil {
		return err
	}
	kept := make([]Address, 0, len(p.Grantees))
	for _, g := range p.Grantees {
		if g != entity {
			kept = append(kept, g)
		}
	}
	p.Grantees = kept
	return a.tx.PutPermission(p)
}

// SetManager hands a permission to a new manager.
func (a *aclWriter) SetManager(actor Address, ref domain.Ref, role domain.Role, manager Address) error {
	if err := a.resource(ref, role); err != nil {
		return err
	}
	p, err := a.managed(actor, PermissionKey{Resource: ref.Address, Role: role})
	if err != nil {
		return err
	}
	if manager.IsZero() {
		return fmt.Errorf("acl: set manager %s: manager is required", p.Key())
	}
	p.Manager = manager
	return a.tx.PutPermission(p)
}

// Apply runs ops in order as actor and stops at the first failure.
func (a *aclWriter) Apply(actor Address, ops []permissions.Operation) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case permissions.OpCreate:
			err = a.Create(actor, op.Resource, op.Role, op.Entity, op.Manager)
		case permissions.OpGrant:
			err = a.Grant(actor, op.Resource, op.Role, op.Entity)
		case permissions.OpRevoke:
			err = a.Revoke(actor, op.Resource, op.Role, op.Entity)
		case permissions.OpSetManager:
			err = a.SetManager(actor, op.Resource, op.Role, op.Manager)
		default:
			err = fmt.Errorf("acl: unsupported operation %s", op.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
