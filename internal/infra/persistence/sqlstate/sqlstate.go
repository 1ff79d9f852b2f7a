// Package sqlstate snapshots a memory ledger into a SQL table holding one row
// per bucket. Backends differ only in their Dialect.
package sqlstate

import (
	"context"
	"database/sql"
	"fmt"

	"daoforge/internal/infra/persistence/memory"
)

// Dialect holds a backend's statements for the state table.
type Dialect struct {
	Name string

	// CreateTable must be idempotent.
	CreateTable string

	// Upsert takes the bucket name and payload, in that order.
	Upsert string
}

// SelectAll reads every bucket row; it is portable across dialects.
const SelectAll = `SELECT bucket, payload FROM state`

// Ensure creates the state table if it is missing.
func Ensure(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, d.CreateTable); err != nil {
		return fmt.Errorf("%s: ensure state table: %w", d.Name, err)
	}
	return nil
}

// Load reads the stored snapshot. found is false for an empty table.
func Load(ctx context.Context, db *sql.DB) (snapshot memory.Snapshot, found bool, err error) {
	rows, err := db.QueryContext(ctx, SelectAll)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		ok, err := snapshot.DecodeBucket(bucket, payload)
		if err != nil {
			return memory.Snapshot{}, false, err
		}
		found = found || ok
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, found, nil
}

// Save writes every bucket of snapshot in one SQL transaction.
func Save(ctx context.Context, db *sql.DB, d Dialect, snapshot memory.Snapshot) (err error) {
	payloads, err := snapshot.EncodeBuckets()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", d.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, p := range payloads {
		if _, err = tx.ExecContext(ctx, d.Upsert, p.Name, p.Data); err != nil {
			return fmt.Errorf("%s: upsert %s: %w", d.Name, p.Name, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", d.Name, err)
	}
	return nil
}
