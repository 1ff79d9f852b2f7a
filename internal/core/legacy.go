package core

import (
	"context"
	"fmt"

	"daoforge/internal/permissions"
	"daoforge/pkg/domain"
)

// NewInstanceRequest configures a single-phase organization. A zero
// Authority makes the voting app its own root authority.
type NewInstanceRequest struct {
	ID        string         `json:"id"`
	Asset     Address        `json:"asset"`
	Authority Address        `json:"authority"`
	Voting    VotingSettings `json:"voting"`
}

// TokenResult is returned by NewToken.
type TokenResult struct {
	Token   Token   `json:"token"`
	Receipt Receipt `json:"receipt"`
}

// LegacyInstance is a finalized single-phase organization.
type LegacyInstance struct {
	Org          Organization    `json:"org"`
	Agent        AgentApp        `json:"agent"`
	TokenWrapper TokenWrapperApp `json:"token_wrapper"`
	Voting       VotingApp       `json:"voting"`
	Authority    Address         `json:"authority"`
	Name         string          `json:"name"`
}

// LegacyResult is returned by NewInstance.
type LegacyResult struct {
	LegacyInstance
	Receipt Receipt `json:"receipt"`
}

// NewToken deploys a transferable governance token controlled by the
// template and caches it for principal's next NewInstance call.
func (s *Service) NewToken(ctx context.Context, principal Address, name, symbol string) (TokenResult, error) {
	var out TokenResult
	_, err := s.run(ctx, OpNewToken, principal, func(tx Transaction) (string, error) {
		if principal.IsZero() {
			return "", fmt.Errorf("principal is required")
		}
		receipt := s.newReceipt(tx, OpNewToken, principal)
		token, ev, err := s.installer.DeployToken(ctx, tx, TemplateAddress, TokenSpec{
			Name:         name,
			Symbol:       symbol,
			Decimals:     18,
			Transferable: true,
		})
		if err != nil {
			return "", err
		}
		receipt.Append(ev)
		if _, _, err := tx.PutCachedToken(CachedToken{Principal: principal, Token: token.Address}); err != nil {
			return "", err
		}
		out = TokenResult{Token: token, Receipt: *receipt}
		return token.Address.Hex(), nil
	})
	if err != nil {
		return TokenResult{}, err
	}
	s.publish(ctx, out.Receipt)
	return out, nil
}

// checkAuthority requires a supplied authority to be a known forwarder.
func checkAuthority(view TransactionView, authority Address) error {
	if authority.IsZero() {
		return nil
	}
	acct, ok := view.FindAccount(authority)
	if !ok || !acct.Has(domain.CapabilityForwarder) {
		return domain.ErrBadMultisigOrAuthority
	}
	return nil
}

// NewInstance builds a whole organization in one call around the token
// cached by NewToken: agent, a wrapper issuing that token against the
// asset, and voting on it.
func (s *Service) NewInstance(ctx context.Context, principal Address, req NewInstanceRequest) (LegacyResult, error) {
	var out LegacyResult
	_, err := s.run(ctx, OpNewInstance, principal, func(tx Transaction) (string, error) {
		if err := ValidateID(req.ID); err != nil {
			return "", err
		}
		cached, ok := tx.FindCachedToken(principal)
		if !ok {
			return "", domain.ErrMissingCache
		}
		if err := s.prober.Probe(tx, req.Asset); err != nil {
			return "", err
		}
		if err := checkAuthority(tx, req.Authority); err != nil {
			return "", err
		}
		receipt := s.newReceipt(tx, OpNewInstance, principal)
		d, err := s.createOrganization(ctx, tx, principal, domain.PhasePrepare, receipt)
		if err != nil {
			return "", err
		}
		agent, err := d.installAgent()
		if err != nil {
			return "", err
		}
		wrapper, err := d.installTokenWrapper(req.Asset, cached.Token, "", "")
		if err != nil {
			return "", err
		}
		voting, err := d.installVoting(cached.Token, req.Voting)
		if err != nil {
			return "", err
		}
		ops, err := permissions.BuildLegacy(permissions.LegacyTopology{
			Template:     TemplateAddress,
			Kernel:       d.org.Address,
			ACL:          d.org.ACL,
			Registry:     d.org.Registry,
			Agent:        agent.Address,
			Voting:       voting.Address,
			TokenWrapper: wrapper.Address,
			Authority:    req.Authority,
		})
		if err != nil {
			return "", err
		}
		if err := d.wire(ops); err != nil {
			return "", err
		}
		if err := d.register(req.ID, principal); err != nil {
			return "", err
		}
		org, err := d.complete(req.ID)
		if err != nil {
			return "", err
		}
		if err := tx.DeleteCachedToken(principal); err != nil {
			return "", err
		}
		out = LegacyResult{
			LegacyInstance: LegacyInstance{
				Org:          org,
				Agent:        agent,
				TokenWrapper: wrapper,
				Voting:       voting,
				Authority:    req.Authority,
				Name:         req.ID,
			},
			Receipt: *receipt,
		}
		return org.Address.Hex(), nil
	})
	if err != nil {
		return LegacyResult{}, err
	}
	s.publish(ctx, out.Receipt)
	return out, nil
}
