package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"daoforge/internal/infra/persistence/memory"
	"daoforge/internal/infra/persistence/postgres/testutil"
	"daoforge/pkg/domain"
)

var (
	orgAddr = domain.MustParseAddress("0x1000000000000000000000000000000000000001")
	alice   = domain.MustParseAddress("0xa000000000000000000000000000000000000001")
)

func openStub(t *testing.T) (*sql.DB, *testutil.BucketTable) {
	t.Helper()
	db, table := testutil.OpenBucketTable()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	return db, table
}

func TestNewStoreCreatesStateTable(t *testing.T) {
	_, table := openStub(t)
	if _, err := NewStore("", domain.NewRulesEngine()); err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range table.Statements {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state DDL, got execs: %v", table.Statements)
	}
}

func TestRunInTransactionPersistsEveryBucket(t *testing.T) {
	_, table := openStub(t)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateOrganization(domain.Organization{Address: orgAddr, Creator: alice})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if len(table.Rows) != len(memory.BucketNames()) {
		t.Fatalf("expected %d buckets, got %d", len(memory.BucketNames()), len(table.Rows))
	}
	payload, ok := table.Payload("organizations")
	if !ok {
		t.Fatalf("organizations bucket missing")
	}
	var orgs map[domain.Address]domain.Organization
	if err := json.Unmarshal(payload, &orgs); err != nil {
		t.Fatalf("decode organizations: %v", err)
	}
	if _, ok := orgs[orgAddr]; !ok {
		t.Fatalf("organization not persisted: %v", orgs)
	}
}

func TestNewStoreHydratesFromSnapshot(t *testing.T) {
	_, table := openStub(t)
	first, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = first.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateOrganization(domain.Organization{Address: orgAddr}); err != nil {
			return err
		}
		_, _, err := tx.PutCachedInstance(domain.CachedInstance{Principal: alice, Org: orgAddr})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(table.Rows) == 0 {
		t.Fatalf("expected persisted state")
	}
	second, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(second.ListOrganizations()) != 1 {
		t.Fatalf("expected hydrated organization")
	}
	if _, ok := second.ExportState().CachedInstances[alice]; !ok {
		t.Fatalf("expected hydrated cache entry")
	}
}

func TestRunInTransactionErrorSkipsPersist(t *testing.T) {
	_, table := openStub(t)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	before := len(table.Statements)
	boom := errors.New("boom")
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(table.Statements) != before {
		t.Fatalf("failed transaction must not write snapshots")
	}
}

func TestPersistFailures(t *testing.T) {
	_, table := openStub(t)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	table.FailBegin = true
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected begin failure")
	}
	table.FailBegin = false
	table.FailCommit = true
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected commit failure")
	}
	table.FailCommit = false
	table.FailUpsert = true
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected upsert failure")
	}
}

func TestFailedPersistRestoresLedger(t *testing.T) {
	for _, tc := range []struct {
		name string
		arm  func(*testutil.BucketTable)
	}{
		{"begin", func(tb *testutil.BucketTable) { tb.FailBegin = true }},
		{"upsert", func(tb *testutil.BucketTable) { tb.FailUpsert = true }},
		{"commit", func(tb *testutil.BucketTable) { tb.FailCommit = true }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, table := openStub(t)
			store, err := NewStore("", nil)
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			tc.arm(table)
			_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
				if _, err := tx.CreateOrganization(domain.Organization{Address: orgAddr, Creator: alice}); err != nil {
					return err
				}
				tx.NextNonce(alice)
				_, _, err := tx.PutCachedInstance(domain.CachedInstance{Principal: alice, Org: orgAddr})
				return err
			})
			if err == nil {
				t.Fatalf("expected %s failure", tc.name)
			}
			if got := len(store.ListOrganizations()); got != 0 {
				t.Fatalf("expected ledger rolled back, got %d organizations", got)
			}
			state := store.ExportState()
			if _, ok := state.CachedInstances[alice]; ok {
				t.Fatalf("cached instance survived a failed persist")
			}
			if state.Nonces[alice] != 0 {
				t.Fatalf("nonce advanced by a failed persist: %v", state.Nonces)
			}
		})
	}
}

func TestNewStoreOpenAndPingErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("open fail") })
	if _, err := NewStore("postgres://example", nil); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	_, table := openStub(t)
	table.FailPing = true
	if _, err := NewStore("", nil); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestNewStoreRejectsCorruptSnapshot(t *testing.T) {
	_, table := openStub(t)
	table.Rows["organizations"] = []byte("{not json")
	if _, err := NewStore("", nil); err == nil {
		t.Fatalf("expected decode error")
	}
}
