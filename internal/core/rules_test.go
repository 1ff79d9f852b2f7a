package core

import (
	"context"
	"errors"
	"testing"

	"daoforge/internal/infra/persistence/memory"
	"daoforge/internal/permissions"
	"daoforge/pkg/domain"
)

// runRules commits setup, then runs change and returns its rule error.
func runRules(t *testing.T, setup, change func(tx Transaction, org Organization) error) (Result, error) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore(NewDefaultRulesEngine())
	var org Organization
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		o, _, err := NewLedgerInstaller(nil).NewOrganization(ctx, tx, TemplateAddress, owner)
		if err != nil {
			return err
		}
		org = o
		if setup != nil {
			return setup(tx, o)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return store.RunInTransaction(ctx, func(tx Transaction) error { return change(tx, org) })
}

func blockedBy(err error, rule string) bool {
	var rv RuleViolationError
	if !errors.As(err, &rv) {
		return false
	}
	for _, v := range rv.Result.Violations {
		if v.Rule == rule && v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

func TestTemplateResidueRuleBlocksFinalize(t *testing.T) {
	_, err := runRules(t, nil, func(tx Transaction, org Organization) error {
		_, err := tx.UpdateOrganization(org.Address, func(o *Organization) error {
			o.Status = domain.OrgFinalized
			return nil
		})
		return err
	})
	if !blockedBy(err, "template_residue") {
		t.Fatalf("expected template residue block, got %v", err)
	}
}

func TestOrganizationLifecycleRule(t *testing.T) {
	finalize := func(tx Transaction, org Organization) error {
		// Hand every root permission to the creator so the residue rule passes.
		for _, p := range tx.ListPermissions() {
			p.Manager = owner
			p.Grantees = []Address{owner}
			if err := tx.PutPermission(p); err != nil {
				return err
			}
		}
		_, err := tx.UpdateOrganization(org.Address, func(o *Organization) error {
			o.Status = domain.OrgFinalized
			return nil
		})
		return err
	}
	_, err := runRules(t, finalize, func(tx Transaction, org Organization) error {
		_, err := tx.UpdateOrganization(org.Address, func(o *Organization) error {
			o.Status = domain.OrgPrepared
			return nil
		})
		return err
	})
	if !blockedBy(err, "organization_lifecycle") {
		t.Fatalf("expected lifecycle block leaving finalized, got %v", err)
	}

	_, err = runRules(t, nil, func(tx Transaction, org Organization) error {
		_, err := tx.UpdateOrganization(org.Address, func(o *Organization) error {
			o.Status = "archived"
			return nil
		})
		return err
	})
	if !blockedBy(err, "organization_lifecycle") {
		t.Fatalf("expected lifecycle block on unknown state, got %v", err)
	}

	res, err := runRules(t, nil, func(tx Transaction, org Organization) error {
		return orphan(tx, org.Address)
	})
	if err != nil {
		t.Fatalf("orphan: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != SeverityWarn {
		t.Fatalf("violations = %+v", res.Violations)
	}
}

func TestPermissionIntegrityRule(t *testing.T) {
	cases := map[string]func(tx Transaction, org Organization) error{
		"no manager": func(tx Transaction, org Organization) error {
			return tx.PutPermission(Permission{Resource: org.Address, Role: domain.RoleAppManager, Grantees: []Address{owner}})
		},
		"manage role with two grantees": func(tx Transaction, org Organization) error {
			return tx.PutPermission(Permission{Resource: org.ACL, Role: domain.RoleCreatePermissions, Manager: owner, Grantees: []Address{owner, other}})
		},
		"role on wrong kind": func(tx Transaction, org Organization) error {
			return tx.PutPermission(Permission{Resource: org.Address, Role: domain.RoleMint, Manager: owner, Grantees: []Address{owner}})
		},
		"unknown resource": func(tx Transaction, org Organization) error {
			return tx.PutPermission(Permission{Resource: domain.PrincipalAddress("ghost"), Role: domain.RoleExecute, Manager: owner, Grantees: []Address{owner}})
		},
	}
	for name, change := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := runRules(t, nil, change); !blockedBy(err, "permission_integrity") {
				t.Fatalf("expected permission integrity block, got %v", err)
			}
		})
	}

	// Execute-class roles may have several grantees.
	_, err := runRules(t, nil, func(tx Transaction, org Organization) error {
		agent, err := installAgent(context.Background(), tx, org)
		if err != nil {
			return err
		}
		return tx.PutPermission(Permission{Resource: agent.Address, Role: domain.RoleExecute, Manager: owner, Grantees: []Address{owner, other}})
	})
	if err != nil {
		t.Fatalf("execute with two grantees: %v", err)
	}
}

func TestPermissionIntegrityChecksCommittedState(t *testing.T) {
	t.Run("manage role transfer", func(t *testing.T) {
		_, err := runRules(t, nil, func(tx Transaction, org Organization) error {
			registry := domain.Ref{Kind: domain.KindEVMScriptReg, Address: org.Registry}
			if err := newACLWriter(tx, org).Apply(TemplateAddress, []permissions.Operation{
				{Kind: permissions.OpGrant, Resource: registry, Role: domain.RoleRegistryAddExecutor, Entity: other},
				{Kind: permissions.OpRevoke, Resource: registry, Role: domain.RoleRegistryAddExecutor, Entity: TemplateAddress},
				{Kind: permissions.OpSetManager, Resource: registry, Role: domain.RoleRegistryAddExecutor, Manager: other},
			}); err != nil {
				return err
			}
			p, ok := tx.FindPermission(PermissionKey{Resource: org.Registry, Role: domain.RoleRegistryAddExecutor})
			if !ok || len(p.Grantees) != 1 || p.Grantees[0] != other || p.Manager != other {
				t.Fatalf("unexpected permission after transfer: %+v", p)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
	})

	t.Run("grant left without revoke", func(t *testing.T) {
		_, err := runRules(t, nil, func(tx Transaction, org Organization) error {
			registry := domain.Ref{Kind: domain.KindEVMScriptReg, Address: org.Registry}
			return newACLWriter(tx, org).Grant(TemplateAddress, registry, domain.RoleRegistryAddExecutor, other)
		})
		if !blockedBy(err, "permission_integrity") {
			t.Fatalf("expected permission integrity block, got %v", err)
		}
	})

	t.Run("full permission graph", func(t *testing.T) {
		_, err := runRules(t, nil, func(tx Transaction, org Organization) error {
			app := func(label string, kind domain.ComponentKind) (Address, error) {
				c, err := tx.InstallComponent(Component{
					Address: domain.PrincipalAddress(label),
					Org:     org.Address,
					Kind:    kind,
					Phase:   domain.PhaseFinalize,
				})
				return c.Address, err
			}
			topo := permissions.Topology{
				Template: TemplateAddress,
				Kernel:   org.Address,
				ACL:      org.ACL,
				Registry: org.Registry,
			}
			for _, slot := range []struct {
				dst   *Address
				label string
				kind  domain.ComponentKind
			}{
				{&topo.Agent, "agent", domain.KindAgent},
				{&topo.Finance, "finance", domain.KindFinance},
				{&topo.CommunityVoting, "community-voting", domain.KindVoting},
				{&topo.CouncilVoting, "council-voting", domain.KindVoting},
				{&topo.TokenManager, "token-manager", domain.KindTokenManager},
				{&topo.TokenWrapper, "token-wrapper", domain.KindTokenWrapper},
				{&topo.Aggregator, "aggregator", domain.KindVotingAggregator},
			} {
				addr, err := app(slot.label, slot.kind)
				if err != nil {
					return err
				}
				*slot.dst = addr
			}
			w := newACLWriter(tx, org)
			held := []struct {
				ref  domain.Ref
				role domain.Role
			}{
				{domain.Ref{Kind: domain.KindVotingAggregator, Address: topo.Aggregator}, domain.RoleAddPowerSource},
				{domain.Ref{Kind: domain.KindTokenManager, Address: topo.TokenManager}, domain.RoleMint},
			}
			for _, h := range held {
				if err := w.Create(TemplateAddress, h.ref, h.role, TemplateAddress, TemplateAddress); err != nil {
					return err
				}
			}
			ops, err := permissions.Build(topo)
			if err != nil {
				return err
			}
			return w.Apply(TemplateAddress, ops)
		})
		if err != nil {
			t.Fatalf("apply permission graph: %v", err)
		}
	})
}

func TestDefaultRulesEngineRegistersBuiltins(t *testing.T) {
	engine := NewDefaultRulesEngine()
	names := map[string]bool{}
	for _, r := range engine.Rules() {
		names[r.Name()] = true
	}
	for _, want := range []string{"permission_integrity", "template_residue", "organization_lifecycle"} {
		if !names[want] {
			t.Fatalf("missing rule %s in %v", want, names)
		}
	}
}
