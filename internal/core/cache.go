package core

import (
	"fmt"
	"time"

	"daoforge/pkg/domain"
)

// InstanceCache is the per-principal slot holding a prepared organization
// until finalize. Entries live in ledger state, so reading and deleting one
// commits or rolls back with the call that does it. Each principal has at
// most one entry and a put replaces it.
type InstanceCache struct {
	ttl time.Duration
}

// NewInstanceCache returns a cache whose entries expire after ttl. Zero
// disables expiry.
func NewInstanceCache(ttl time.Duration) *InstanceCache {
	return &InstanceCache{ttl: ttl}
}

// TTL returns the configured expiry.
func (c *InstanceCache) TTL() time.Duration { return c.ttl }

// Put stores entry, returning the entry it superseded, expired or not.
func (c *InstanceCache) Put(tx Transaction, entry CachedInstance) (CachedInstance, bool, error) {
	entry.ExpiresAt = time.Time{}
	if c.ttl > 0 {
		entry.ExpiresAt = tx.Now().Add(c.ttl)
	}
	return tx.PutCachedInstance(entry)
}

// Get returns principal's live entry.
func (c *InstanceCache) Get(view TransactionView, now time.Time, principal Address) (CachedInstance, bool) {
	entry, ok := view.FindCachedInstance(principal)
	if !ok || entry.Expired(now) {
		return CachedInstance{}, false
	}
	return entry, true
}

// Take removes and returns principal's live entry, failing with
// domain.ErrMissingCache when there is none.
func (c *InstanceCache) Take(tx Transaction, principal Address) (CachedInstance, error) {
	entry, ok := c.Get(tx, tx.Now(), principal)
	if !ok {
		return CachedInstance{}, domain.ErrMissingCache
	}
	if err := tx.DeleteCachedInstance(principal); err != nil {
		return CachedInstance{}, fmt.Errorf("instance cache: %w", err)
	}
	return entry, nil
}
