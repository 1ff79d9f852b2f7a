package core

import (
	"fmt"

	"daoforge/pkg/domain"
)

func requireRole(tx Transaction, actor Address, resource Address, role domain.Role) error {
	p, ok := tx.FindPermission(PermissionKey{Resource: resource, Role: role})
	if !ok || !p.Holds(actor) {
		return fmt.Errorf("%s on %s: %w", role, resource, domain.ErrACLAuthFailed)
	}
	return nil
}

// addPowerSource registers src on an aggregator. actor needs ADD_POWER_SOURCE_ROLE.
func addPowerSource(tx Transaction, actor, aggregator Address, src domain.PowerSource) error {
	if err := requireRole(tx, actor, aggregator, domain.RoleAddPowerSource); err != nil {
		return err
	}
	if src.Type == domain.PowerSourceInvalid || !isTokenLike(tx, src.Source) {
		return domain.ErrAggregatorSourceInvalid
	}
	if src.Weight == 0 {
		return domain.ErrAggregatorZeroWeight
	}
	_, err := tx.UpdateComponent(aggregator, func(c *Component) error {
		if c.Kind != domain.KindVotingAggregator || c.Params.Aggregator == nil {
			return fmt.Errorf("component %s is not a voting aggregator", aggregator)
		}
		for _, existing := range c.Params.Aggregator.Sources {
			if existing.Source == src.Source {
				return domain.ErrAggregatorSourceExists
			}
		}
		src.Enabled = true
		c.Params.Aggregator.Sources = append(c.Params.Aggregator.Sources, src)
		return nil
	})
	return err
}

// mint issues amount of the token manager's token to holder. actor needs
// MINT_ROLE. The manager's per-account cap applies to the resulting balance.
func mint(tx Transaction, actor, manager, holder Address, amount uint64) error {
	if err := requireRole(tx, actor, manager, domain.RoleMint); err != nil {
		return err
	}
	tm, ok := tx.FindComponent(manager)
	if !ok || tm.Kind != domain.KindTokenManager || tm.Params.TokenManager == nil {
		return fmt.Errorf("component %s is not a token manager", manager)
	}
	params := *tm.Params.TokenManager
	_, err := tx.UpdateToken(params.Token, func(t *Token) error {
		if t.Controller != manager {
			return domain.ErrTokenControllerMismatch
		}
		next := t.Balances[holder] + amount
		if params.MaxAccountTokens > 0 && next > params.MaxAccountTokens {
			return domain.ErrMintBalanceExceeded
		}
		if t.Balances == nil {
			t.Balances = make(map[Address]uint64)
		}
		t.Balances[holder] = next
		t.TotalSupply += amount
		return nil
	})
	return err
}
