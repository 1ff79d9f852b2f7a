package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to ledger state.
type TransactionView interface {
	ListOrganizations() []Organization
	ListComponents(org Address) []Component
	ListPermissions() []Permission
	ListNames() []NameRecord
	FindOrganization(addr Address) (Organization, bool)
	FindComponent(addr Address) (Component, bool)
	FindToken(addr Address) (Token, bool)
	FindPermission(key PermissionKey) (Permission, bool)
	FindName(node string) (NameRecord, bool)
	FindCachedInstance(principal Address) (CachedInstance, bool)
	FindCachedToken(principal Address) (CachedToken, bool)
	FindAsset(addr Address) (Asset, bool)
	FindAccount(addr Address) (Account, bool)
}

// Transaction exposes the ledger mutations a persistence implementation must
// support within an atomic scope. Reads through the embedded view observe
// the transaction's own uncommitted writes.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	Now() time.Time
	// NextNonce returns deployer's next deployment nonce and advances it.
	NextNonce(deployer Address) uint64
	CreateOrganization(Organization) (Organization, error)
	UpdateOrganization(addr Address, mutator func(*Organization) error) (Organization, error)
	InstallComponent(Component) (Component, error)
	UpdateComponent(addr Address, mutator func(*Component) error) (Component, error)
	CreateToken(Token) (Token, error)
	UpdateToken(addr Address, mutator func(*Token) error) (Token, error)
	PutPermission(Permission) error
	DeletePermission(key PermissionKey) error
	CreateName(NameRecord) error
	// PutCachedInstance stores entry for its principal, returning any entry it replaced.
	PutCachedInstance(entry CachedInstance) (CachedInstance, bool, error)
	DeleteCachedInstance(principal Address) error
	PutCachedToken(entry CachedToken) (CachedToken, bool, error)
	DeleteCachedToken(principal Address) error
	PutAsset(Asset) error
	PutAccount(Account) error
}

// PersistentStore is a minimal abstraction over durable ledger backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
