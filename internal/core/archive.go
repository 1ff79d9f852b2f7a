package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"daoforge/internal/blob"
	"daoforge/internal/codec"
)

const (
	receiptPrefix      = "receipts/"
	receiptContentType = "application/cbor"
	maxArchiveAttempts = 3
)

// ReceiptArchive writes committed receipts to a blob store as CBOR, one
// object per call, grouped by principal.
type ReceiptArchive struct {
	store blob.Store
	seq   atomic.Uint64
}

// NewReceiptArchive returns an archive writing to store.
func NewReceiptArchive(store blob.Store) *ReceiptArchive {
	return &ReceiptArchive{store: store}
}

// Backend returns the underlying blob store.
func (a *ReceiptArchive) Backend() blob.Store { return a.store }

func principalPrefix(principal Address) string {
	return receiptPrefix + principal.Hex() + "/"
}

// receiptKey sorts by commit time within a principal's prefix.
func (a *ReceiptArchive) receiptKey(receipt Receipt) string {
	return fmt.Sprintf("%s%020d-%06d-%s.cbor",
		principalPrefix(receipt.Principal), receipt.At.UnixNano(), a.seq.Add(1), receipt.Operation)
}

// Store encodes receipt and writes it under a fresh key.
func (a *ReceiptArchive) Store(ctx context.Context, receipt Receipt) (blob.Info, error) {
	data, err := codec.Marshal(receipt)
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode receipt: %w", err)
	}
	opts := blob.PutOptions{
		ContentType: receiptContentType,
		Metadata: map[string]string{
			"operation": receipt.Operation,
			"principal": receipt.Principal.Hex(),
			"org":       receipt.Org().Hex(),
		},
	}
	for attempt := 1; ; attempt++ {
		info, err := a.store.Put(ctx, a.receiptKey(receipt), bytes.NewReader(data), opts)
		if errors.Is(err, blob.ErrExists) && attempt < maxArchiveAttempts {
			continue
		}
		return info, err
	}
}

// List returns the archived receipts of principal, oldest first.
func (a *ReceiptArchive) List(ctx context.Context, principal Address) ([]blob.Info, error) {
	return a.store.List(ctx, principalPrefix(principal))
}

// Load decodes the receipt stored under key.
func (a *ReceiptArchive) Load(ctx context.Context, key string) (Receipt, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return Receipt{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Receipt{}, fmt.Errorf("read receipt %s: %w", key, err)
	}
	var out Receipt
	if err := codec.Unmarshal(data, &out); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt %s: %w", key, err)
	}
	return out, nil
}

// Receipts loads every archived receipt of principal, oldest first.
func (s *Service) Receipts(ctx context.Context, principal Address) ([]Receipt, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("receipt archive not configured")
	}
	infos, err := s.archive.List(ctx, principal)
	if err != nil {
		return nil, err
	}
	out := make([]Receipt, 0, len(infos))
	for _, info := range infos {
		r, err := s.archive.Load(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
