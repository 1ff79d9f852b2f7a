package core

import (
	"context"
	"errors"
	"fmt"

	"daoforge/pkg/domain"
)

// ErrNotFound reports a lookup that matched nothing.
var ErrNotFound = errors.New("not found")

// Organization returns the organization rooted at addr.
func (s *Service) Organization(ctx context.Context, addr Address) (Organization, error) {
	var out Organization
	err := s.store.View(ctx, func(view TransactionView) error {
		org, ok := view.FindOrganization(addr)
		if !ok {
			return fmt.Errorf("organization %s: %w", addr, ErrNotFound)
		}
		out = org
		return nil
	})
	return out, err
}

// Components lists an organization's components in install order.
func (s *Service) Components(ctx context.Context, org Address) ([]Component, error) {
	var out []Component
	err := s.store.View(ctx, func(view TransactionView) error {
		if _, ok := view.FindOrganization(org); !ok {
			return fmt.Errorf("organization %s: %w", org, ErrNotFound)
		}
		out = view.ListComponents(org)
		return nil
	})
	return out, err
}

// Permissions lists the ACL entries on an organization's components.
func (s *Service) Permissions(ctx context.Context, org Address) ([]Permission, error) {
	var out []Permission
	err := s.store.View(ctx, func(view TransactionView) error {
		if _, ok := view.FindOrganization(org); !ok {
			return fmt.Errorf("organization %s: %w", org, ErrNotFound)
		}
		owned := make(map[Address]struct{})
		for _, c := range view.ListComponents(org) {
			owned[c.Address] = struct{}{}
		}
		for _, p := range view.ListPermissions() {
			if _, ok := owned[p.Resource]; ok {
				out = append(out, p)
			}
		}
		domain.SortPermissions(out)
		return nil
	})
	return out, err
}

// Grants flattens Permissions into one edge per grantee.
func (s *Service) Grants(ctx context.Context, org Address) ([]PermissionGrant, error) {
	perms, err := s.Permissions(ctx, org)
	if err != nil {
		return nil, err
	}
	var out []PermissionGrant
	for _, p := range perms {
		out = append(out, p.Edges()...)
	}
	return out, nil
}

// ACLDigest returns a hash of the organization's wiring that ignores
// concrete addresses. Split and merged flows yield the same digest.
func (s *Service) ACLDigest(ctx context.Context, org Address) (string, error) {
	var out string
	err := s.store.View(ctx, func(view TransactionView) error {
		o, ok := view.FindOrganization(org)
		if !ok {
			return fmt.Errorf("organization %s: %w", org, ErrNotFound)
		}
		digest, err := aclDigest(view, o)
		out = digest
		return err
	})
	return out, err
}

// PendingInstance returns principal's live prepared instance.
func (s *Service) PendingInstance(ctx context.Context, principal Address) (CachedInstance, bool, error) {
	var (
		out CachedInstance
		ok  bool
	)
	now := s.clock.Now()
	err := s.store.View(ctx, func(view TransactionView) error {
		out, ok = s.cache.Get(view, now, principal)
		return nil
	})
	return out, ok, err
}

// PendingToken returns the token principal created with NewToken, if unused.
func (s *Service) PendingToken(ctx context.Context, principal Address) (CachedToken, bool, error) {
	var (
		out CachedToken
		ok  bool
	)
	err := s.store.View(ctx, func(view TransactionView) error {
		out, ok = view.FindCachedToken(principal)
		return nil
	})
	return out, ok, err
}

// Resolve returns the organization registered under id.
func (s *Service) Resolve(ctx context.Context, id string) (Address, bool, error) {
	var (
		out Address
		ok  bool
	)
	err := s.store.View(ctx, func(view TransactionView) error {
		out, ok = s.registrar.Resolve(view, id)
		return nil
	})
	return out, ok, err
}

// Orphans lists prepared organizations superseded before finalize.
func (s *Service) Orphans(ctx context.Context) ([]Organization, error) {
	var out []Organization
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, o := range view.ListOrganizations() {
			if o.Status == domain.OrgOrphaned {
				out = append(out, o)
			}
		}
		return nil
	})
	return out, err
}

// Token returns a token deployed on the ledger.
func (s *Service) Token(ctx context.Context, addr Address) (Token, error) {
	var out Token
	err := s.store.View(ctx, func(view TransactionView) error {
		t, ok := view.FindToken(addr)
		if !ok {
			return fmt.Errorf("token %s: %w", addr, ErrNotFound)
		}
		out = t
		return nil
	})
	return out, err
}

// TokenBalance returns holder's balance of token.
func (s *Service) TokenBalance(ctx context.Context, token, holder Address) (uint64, error) {
	t, err := s.Token(ctx, token)
	if err != nil {
		return 0, err
	}
	return t.BalanceOf(holder), nil
}

// RegisterAsset records an external asset the template may wrap.
func (s *Service) RegisterAsset(ctx context.Context, asset Asset) error {
	_, err := s.run(ctx, OpRegisterAsset, Address{}, func(tx Transaction) (string, error) {
		return asset.Address.Hex(), tx.PutAsset(asset)
	})
	return err
}

// RegisterAccount records an external principal and its capabilities.
func (s *Service) RegisterAccount(ctx context.Context, account Account) error {
	_, err := s.run(ctx, OpRegisterAccount, Address{}, func(tx Transaction) (string, error) {
		return account.Address.Hex(), tx.PutAccount(account)
	})
	return err
}
