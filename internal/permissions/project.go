package permissions

import (
	"fmt"

	"daoforge/pkg/domain"
)

// Seed returns the entries a template holds before a graph is applied:
// each key granted to and managed by template.
func Seed(template domain.Address, held []domain.RoleKey) []domain.Permission {
	out := make([]domain.Permission, 0, len(held))
	for _, k := range held {
		out = append(out, domain.Permission{
			Resource: k.Resource.Address,
			Role:     k.Role,
			Manager:  template,
			Grantees: []domain.Address{template},
		})
	}
	return out
}

// Project replays ops over seed and returns the resulting edges ordered by
// resource, role and grantee. It checks structural validity only: creates
// must target empty slots, other operations existing ones, and manage-class
// roles may end with at most one grantee.
func Project(seed []domain.Permission, ops []Operation) ([]domain.PermissionGrant, error) {
	acl := make(map[domain.PermissionKey]domain.Permission, len(seed)+len(ops))
	for _, p := range seed {
		acl[p.Key()] = p.Clone()
	}
	for i, op := range ops {
		if !op.Role.ValidFor(op.Resource.Kind) {
			return nil, fmt.Errorf("permissions: op %d %s: %w", i, op, domain.ErrACLRoleKindMismatch)
		}
		key := op.Key()
		p, exists := acl[key]
		switch op.Kind {
		case OpCreate:
			if exists {
				return nil, fmt.Errorf("permissions: op %d %s: %w", i, op, domain.ErrACLExistentManager)
			}
			acl[key] = domain.Permission{Resource: key.Resource, Role: key.Role, Manager: op.Manager, Grantees: []domain.Address{op.Entity}}
			continue
		case OpGrant, OpRevoke, OpSetManager:
			if !exists {
				return nil, fmt.Errorf("permissions: op %d %s: permission does not exist", i, op)
			}
		default:
			return nil, fmt.Errorf("permissions: op %d: unknown kind %s", i, op.Kind)
		}
		switch op.Kind {
		case OpGrant:
			if !p.GrantedTo(op.Entity) {
				p.Grantees = append(p.Grantees, op.Entity)
			}
		case OpRevoke:
			kept := p.Grantees[:0]
			for _, g := range p.Grantees {
				if g != op.Entity {
					kept = append(kept, g)
				}
			}
			p.Grantees = kept
		case OpSetManager:
			p.Manager = op.Manager
		}
		acl[key] = p
	}

	perms := make([]domain.Permission, 0, len(acl))
	for _, p := range acl {
		if p.Role.Class() == domain.ClassManage && len(p.Grantees) > 1 {
			return nil, fmt.Errorf("permissions: %s holds %d grantees on a manage-class role", p.Key(), len(p.Grantees))
		}
		domain.SortAddresses(p.Grantees)
		perms = append(perms, p)
	}
	domain.SortPermissions(perms)
	var out []domain.PermissionGrant
	for _, p := range perms {
		out = append(out, p.Edges()...)
	}
	return out, nil
}
