package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"daoforge/internal/blob"
	"daoforge/pkg/domain"
)

func TestServiceArchivesReceipts(t *testing.T) {
	ctx := context.Background()
	archive := NewReceiptArchive(blob.NewMemory())
	svc, _ := newTestService(t, WithReceiptArchive(archive))
	asset := mustRegisterAsset(t, svc, "X")
	prep := mustPrepare(t, svc, owner, asset)
	fin := mustFinalize(t, svc, owner, finalizeRequest("archived", member(1)))
	if _, err := svc.Finalize(ctx, owner, finalizeRequest("", member(1))); err == nil {
		t.Fatalf("expected missing cache")
	}

	receipts, err := svc.Receipts(ctx, owner)
	if err != nil {
		t.Fatalf("receipts: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("archived %d receipts, want prepare and finalize only", len(receipts))
	}
	if receipts[0].Operation != OpPrepareInstance || receipts[1].Operation != OpFinalizeInstance {
		t.Fatalf("operations = %s, %s", receipts[0].Operation, receipts[1].Operation)
	}
	if receipts[0].Org() != prep.Org || len(receipts[1].Events) != len(fin.Receipt.Events) {
		t.Fatalf("receipt contents differ from the call results")
	}
	if !receipts[1].At.Equal(fin.Receipt.At) {
		t.Fatalf("at = %s, want %s", receipts[1].At, fin.Receipt.At)
	}

	infos, err := archive.List(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, info := range infos {
		if info.ContentType != "application/cbor" || info.Metadata["principal"] != owner.Hex() {
			t.Fatalf("info = %+v", info)
		}
		if !strings.HasPrefix(info.Key, "receipts/"+owner.Hex()+"/") {
			t.Fatalf("key = %s", info.Key)
		}
	}
	if others, _ := svc.Receipts(ctx, other); len(others) != 0 {
		t.Fatalf("other principal has %d receipts", len(others))
	}
}

func TestReceiptsWithoutArchive(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Receipts(context.Background(), owner); err == nil {
		t.Fatalf("expected error without an archive")
	}
}

// failingStore refuses every write.
type failingStore struct{ blob.Store }

func (failingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errors.New("disk full")
}

func TestArchiveFailureDoesNotFailOperation(t *testing.T) {
	logger := &captureLogger{}
	svc, _ := newTestService(t, WithLogger(logger), WithReceiptArchive(NewReceiptArchive(failingStore{blob.NewMemory()})))
	asset := mustRegisterAsset(t, svc, "X")
	mustPrepare(t, svc, owner, asset)
	if _, ok, _ := svc.PendingInstance(context.Background(), owner); !ok {
		t.Fatalf("prepare should have committed")
	}
	if logger.count("warn", "receipt archive failed") != 1 {
		t.Fatalf("expected one archive warning, got %+v", logger.entries)
	}
}

func TestReceiptArchiveRetriesTakenKeys(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	archive := NewReceiptArchive(store)
	receipt := Receipt{Operation: OpNewToken, Principal: owner, Events: []Event{{Type: domain.EventDeployToken, Token: other}}}

	// Occupy the first key the archive will try.
	taken := NewReceiptArchive(store).receiptKey(receipt)
	if _, err := store.Put(ctx, taken, strings.NewReader("x"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, err := archive.Store(ctx, receipt)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if info.Key == taken {
		t.Fatalf("archive overwrote %s", taken)
	}
	got, err := archive.Load(ctx, info.Key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Operation != OpNewToken || got.Principal != owner || len(got.Events) != 1 || got.Events[0].Token != other {
		t.Fatalf("loaded %+v", got)
	}
	if archive.Backend() != store {
		t.Fatalf("backend mismatch")
	}
}
