package permissions

import (
	"fmt"

	"daoforge/pkg/domain"
)

// LegacyTopology is the component set of a single-phase organization.
// Authority is optional; when zero, the voting app is the root authority.
type LegacyTopology struct {
	Template     domain.Address
	Kernel       domain.Address
	ACL          domain.Address
	Registry     domain.Address
	Agent        domain.Address
	Voting       domain.Address
	TokenWrapper domain.Address
	Authority    domain.Address
}

// Root returns the address that manages every permission.
func (t LegacyTopology) Root() domain.Address {
	if !t.Authority.IsZero() {
		return t.Authority
	}
	return t.Voting
}

// TemplateHeld lists the permissions the template holds when BuildLegacy runs.
func (t LegacyTopology) TemplateHeld() []domain.RoleKey {
	return []domain.RoleKey{
		{Resource: domain.Ref{Kind: domain.KindKernel, Address: t.Kernel}, Role: domain.RoleAppManager},
		{Resource: domain.Ref{Kind: domain.KindACL, Address: t.ACL}, Role: domain.RoleCreatePermissions},
		{Resource: domain.Ref{Kind: domain.KindEVMScriptReg, Address: t.Registry}, Role: domain.RoleRegistryAddExecutor},
		{Resource: domain.Ref{Kind: domain.KindEVMScriptReg, Address: t.Registry}, Role: domain.RoleRegistryManager},
	}
}

// BuildLegacy returns the operations wiring a single-phase organization.
// With an authority, it shares agent execution with voting and is the only
// entity allowed to open votes; without one, wrapped-token holders open votes
// through the token wrapper.
func BuildLegacy(t LegacyTopology) ([]Operation, error) {
	for name, addr := range map[string]domain.Address{
		"template": t.Template, "kernel": t.Kernel, "acl": t.ACL, "registry": t.Registry,
		"agent": t.Agent, "voting": t.Voting, "token wrapper": t.TokenWrapper,
	} {
		if addr.IsZero() {
			return nil, fmt.Errorf("permissions: legacy topology %s address is zero", name)
		}
	}
	root := t.Root()
	b := &builder{template: t.Template}

	registry := domain.Ref{Kind: domain.KindEVMScriptReg, Address: t.Registry}
	b.transfer(registry, domain.RoleRegistryAddExecutor, root, root)
	b.transfer(registry, domain.RoleRegistryManager, root, root)

	executors := []domain.Address{t.Voting}
	if !t.Authority.IsZero() {
		executors = append(executors, t.Authority)
	}
	agent := domain.Ref{Kind: domain.KindAgent, Address: t.Agent}
	b.create(agent, domain.RoleExecute, root, executors...)
	b.create(agent, domain.RoleRunScript, root, executors...)

	voteCreator := t.TokenWrapper
	if !t.Authority.IsZero() {
		voteCreator = t.Authority
	}
	voting := domain.Ref{Kind: domain.KindVoting, Address: t.Voting}
	b.create(voting, domain.RoleCreateVotes, root, voteCreator)
	b.create(voting, domain.RoleModifyQuorum, root, t.Voting)
	b.create(voting, domain.RoleModifySupport, root, t.Voting)

	b.create(domain.Ref{Kind: domain.KindTokenWrapper, Address: t.TokenWrapper}, domain.RoleInstallAdmin, root, domain.AnyAddress)

	b.transfer(domain.Ref{Kind: domain.KindKernel, Address: t.Kernel}, domain.RoleAppManager, root, root)
	b.transfer(domain.Ref{Kind: domain.KindACL, Address: t.ACL}, domain.RoleCreatePermissions, root, root)

	if b.err != nil {
		return nil, b.err
	}
	return b.ops, nil
}
