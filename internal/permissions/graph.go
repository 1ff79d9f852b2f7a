// Package permissions builds the ACL operation sequences that wire an
// organization's components together. It is pure: callers apply the
// operations against their own ACL.
package permissions

import (
	"fmt"

	"daoforge/pkg/domain"
)

// OpKind enumerates ACL mutations.
type OpKind uint8

const (
	// OpCreate creates a permission with one grantee and a manager.
	OpCreate OpKind = iota + 1
	// OpGrant adds a grantee to an existing permission.
	OpGrant
	// OpRevoke removes a grantee.
	OpRevoke
	// OpSetManager replaces the permission manager.
	OpSetManager
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpGrant:
		return "grant"
	case OpRevoke:
		return "revoke"
	case OpSetManager:
		return "set-manager"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Operation is one ACL mutation. Entity is the grantee for create, grant
// and revoke. Manager is set for create and set-manager.
type Operation struct {
	Kind     OpKind
	Resource domain.Ref
	Role     domain.Role
	Entity   domain.Address
	Manager  domain.Address
}

// Key returns the ACL slot the operation targets.
func (op Operation) Key() domain.PermissionKey {
	return domain.PermissionKey{Resource: op.Resource.Address, Role: op.Role}
}

func (op Operation) String() string {
	switch op.Kind {
	case OpSetManager:
		return fmt.Sprintf("%s %s/%s manager=%s", op.Kind, op.Resource, op.Role, op.Manager)
	case OpCreate:
		return fmt.Sprintf("%s %s/%s entity=%s manager=%s", op.Kind, op.Resource, op.Role, op.Entity, op.Manager)
	default:
		return fmt.Sprintf("%s %s/%s entity=%s", op.Kind, op.Resource, op.Role, op.Entity)
	}
}

// Topology is the finished component set of a two-phase organization.
type Topology struct {
	Template        domain.Address
	Kernel          domain.Address
	ACL             domain.Address
	Registry        domain.Address
	Agent           domain.Address
	Finance         domain.Address
	CommunityVoting domain.Address
	CouncilVoting   domain.Address
	TokenManager    domain.Address
	TokenWrapper    domain.Address
	Aggregator      domain.Address
}

func (t Topology) validate() error {
	fields := []struct {
		name string
		addr domain.Address
	}{
		{"template", t.Template},
		{"kernel", t.Kernel},
		{"acl", t.ACL},
		{"registry", t.Registry},
		{"agent", t.Agent},
		{"finance", t.Finance},
		{"community voting", t.CommunityVoting},
		{"council voting", t.CouncilVoting},
		{"token manager", t.TokenManager},
		{"token wrapper", t.TokenWrapper},
		{"aggregator", t.Aggregator},
	}
	for _, f := range fields {
		if f.addr.IsZero() {
			return fmt.Errorf("permissions: topology %s address is zero", f.name)
		}
	}
	return nil
}

// resources lists every permissioned resource in emission order.
func (t Topology) resources() []domain.Ref {
	return []domain.Ref{
		{Kind: domain.KindEVMScriptReg, Address: t.Registry},
		{Kind: domain.KindAgent, Address: t.Agent},
		{Kind: domain.KindFinance, Address: t.Finance},
		{Kind: domain.KindVoting, Address: t.CommunityVoting},
		{Kind: domain.KindVoting, Address: t.CouncilVoting},
		{Kind: domain.KindTokenManager, Address: t.TokenManager},
		{Kind: domain.KindTokenWrapper, Address: t.TokenWrapper},
		{Kind: domain.KindVotingAggregator, Address: t.Aggregator},
		{Kind: domain.KindKernel, Address: t.Kernel},
		{Kind: domain.KindACL, Address: t.ACL},
	}
}

// TemplateHeld lists the permissions the template holds, as grantee and
// manager, when the graph is applied. Build transfers each of them away.
func (t Topology) TemplateHeld() []domain.RoleKey {
	return []domain.RoleKey{
		{Resource: domain.Ref{Kind: domain.KindKernel, Address: t.Kernel}, Role: domain.RoleAppManager},
		{Resource: domain.Ref{Kind: domain.KindACL, Address: t.ACL}, Role: domain.RoleCreatePermissions},
		{Resource: domain.Ref{Kind: domain.KindEVMScriptReg, Address: t.Registry}, Role: domain.RoleRegistryAddExecutor},
		{Resource: domain.Ref{Kind: domain.KindEVMScriptReg, Address: t.Registry}, Role: domain.RoleRegistryManager},
		{Resource: domain.Ref{Kind: domain.KindVotingAggregator, Address: t.Aggregator}, Role: domain.RoleAddPowerSource},
		{Resource: domain.Ref{Kind: domain.KindTokenManager, Address: t.TokenManager}, Role: domain.RoleMint},
	}
}

type builder struct {
	ops      []Operation
	template domain.Address
	err      error
}

func (b *builder) check(res domain.Ref, role domain.Role) bool {
	if b.err != nil {
		return false
	}
	if !role.ValidFor(res.Kind) {
		b.err = fmt.Errorf("permissions: %s on %s: %w", role, res, domain.ErrACLRoleKindMismatch)
		return false
	}
	return true
}

// create emits a fresh permission. With several grantees the template
// manages the entry until every grantee is added, then hands it to manager.
func (b *builder) create(res domain.Ref, role domain.Role, manager domain.Address, grantees ...domain.Address) {
	if !b.check(res, role) {
		return
	}
	if len(grantees) == 0 {
		b.err = fmt.Errorf("permissions: %s on %s: no grantee", role, res)
		return
	}
	if len(grantees) > 1 && role.Class() != domain.ClassExecute {
		b.err = fmt.Errorf("permissions: %s on %s: manage-class role cannot have %d grantees", role, res, len(grantees))
		return
	}
	if len(grantees) == 1 {
		b.ops = append(b.ops, Operation{Kind: OpCreate, Resource: res, Role: role, Entity: grantees[0], Manager: manager})
		return
	}
	b.ops = append(b.ops, Operation{Kind: OpCreate, Resource: res, Role: role, Entity: grantees[0], Manager: b.template})
	for _, g := range grantees[1:] {
		b.ops = append(b.ops, Operation{Kind: OpGrant, Resource: res, Role: role, Entity: g})
	}
	b.ops = append(b.ops, Operation{Kind: OpSetManager, Resource: res, Role: role, Manager: manager})
}

// transfer moves a template-held permission to grantee under manager.
func (b *builder) transfer(res domain.Ref, role domain.Role, grantee, manager domain.Address) {
	if !b.check(res, role) {
		return
	}
	b.ops = append(b.ops,
		Operation{Kind: OpGrant, Resource: res, Role: role, Entity: grantee},
		Operation{Kind: OpRevoke, Resource: res, Role: role, Entity: b.template},
		Operation{Kind: OpSetManager, Resource: res, Role: role, Manager: manager},
	)
}

// Build returns the operations wiring a finalized two-phase organization.
// Council voting manages every permission it emits. Kernel and ACL root
// roles are transferred last because every earlier create depends on the
// template still holding CREATE_PERMISSIONS_ROLE.
func Build(t Topology) ([]Operation, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	council := t.CouncilVoting
	b := &builder{template: t.Template}

	registry := domain.Ref{Kind: domain.KindEVMScriptReg, Address: t.Registry}
	b.transfer(registry, domain.RoleRegistryAddExecutor, council, council)
	b.transfer(registry, domain.RoleRegistryManager, council, council)

	agent := domain.Ref{Kind: domain.KindAgent, Address: t.Agent}
	b.create(agent, domain.RoleExecute, council, council, t.CommunityVoting)
	b.create(agent, domain.RoleRunScript, council, council, t.CommunityVoting)
	b.create(agent, domain.RoleTransfer, council, t.Finance)

	finance := domain.Ref{Kind: domain.KindFinance, Address: t.Finance}
	b.create(finance, domain.RoleCreatePayments, council, council)
	b.create(finance, domain.RoleExecutePayments, council, council)
	b.create(finance, domain.RoleManagePayments, council, council)

	community := domain.Ref{Kind: domain.KindVoting, Address: t.CommunityVoting}
	b.create(community, domain.RoleCreateVotes, council, t.Aggregator)
	b.create(community, domain.RoleModifyQuorum, council, council)
	b.create(community, domain.RoleModifySupport, council, council)

	councilRef := domain.Ref{Kind: domain.KindVoting, Address: council}
	b.create(councilRef, domain.RoleCreateVotes, council, t.TokenManager)
	b.create(councilRef, domain.RoleModifyQuorum, council, council)
	b.create(councilRef, domain.RoleModifySupport, council, council)

	tm := domain.Ref{Kind: domain.KindTokenManager, Address: t.TokenManager}
	b.transfer(tm, domain.RoleMint, t.CommunityVoting, council)
	b.create(tm, domain.RoleBurn, council, t.CommunityVoting)

	wrapper := domain.Ref{Kind: domain.KindTokenWrapper, Address: t.TokenWrapper}
	b.create(wrapper, domain.RoleInstallAdmin, council, domain.AnyAddress)

	aggregator := domain.Ref{Kind: domain.KindVotingAggregator, Address: t.Aggregator}
	b.transfer(aggregator, domain.RoleAddPowerSource, council, council)
	b.create(aggregator, domain.RoleManagePowerSource, council, council)
	b.create(aggregator, domain.RoleManageWeights, council, council)

	b.transfer(domain.Ref{Kind: domain.KindKernel, Address: t.Kernel}, domain.RoleAppManager, council, council)
	b.transfer(domain.Ref{Kind: domain.KindACL, Address: t.ACL}, domain.RoleCreatePermissions, council, council)

	if b.err != nil {
		return nil, b.err
	}
	return b.ops, nil
}

// Unassigned lists the roles of t's resources that Build deliberately
// leaves without any permission entry. It fails when t cannot be built.
func Unassigned(t Topology) ([]domain.RoleKey, error) {
	ops, err := Build(t)
	if err != nil {
		return nil, err
	}
	touched := touchedKeys(ops)
	var out []domain.RoleKey
	for _, res := range t.resources() {
		for _, role := range domain.RolesFor(res.Kind) {
			key := domain.PermissionKey{Resource: res.Address, Role: role}
			if _, ok := touched[key]; ok {
				continue
			}
			out = append(out, domain.RoleKey{Resource: res, Role: role})
		}
	}
	return out, nil
}

func touchedKeys(ops []Operation) map[domain.PermissionKey]struct{} {
	out := make(map[domain.PermissionKey]struct{}, len(ops))
	for _, op := range ops {
		out[op.Key()] = struct{}{}
	}
	return out
}
