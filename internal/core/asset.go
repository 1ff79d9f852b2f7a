package core

import (
	"daoforge/pkg/domain"
)

// AssetProber checks that an address behaves like a fungible asset.
type AssetProber interface {
	Probe(view TransactionView, asset Address) error
}

// LedgerAssetProber answers from the ledger's asset registry and its own
// tokens. An asset qualifies when it reports decimals and answers a balance
// query, mirroring the calls the token wrapper makes on deposit.
type LedgerAssetProber struct{}

// Probe implements AssetProber.
func (LedgerAssetProber) Probe(view TransactionView, asset Address) error {
	if asset.IsZero() {
		return domain.ErrBadExternalAsset
	}
	if _, ok := view.FindToken(asset); ok {
		return nil
	}
	a, ok := view.FindAsset(asset)
	if !ok || a.Decimals == nil || a.Balances == nil {
		return domain.ErrBadExternalAsset
	}
	return nil
}
