// Package testutil fakes the Postgres bucket table behind database/sql so the
// postgres store can be tested without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var registered atomic.Int64

// BucketTable is the fake state table. Writes made inside a transaction only
// reach Rows on commit.
type BucketTable struct {
	mu         sync.Mutex
	Statements []string
	Rows       map[string][]byte

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailUpsert bool
	IterErr    error

	pending map[string][]byte
}

// OpenBucketTable registers a fresh driver and returns a handle opened on it.
func OpenBucketTable() (*sql.DB, *BucketTable) {
	table := &BucketTable{Rows: make(map[string][]byte)}
	name := fmt.Sprintf("pgbuckets%d", registered.Add(1))
	sql.Register(name, fakeDriver{table: table})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, table
}

// Payload returns the stored payload of bucket.
func (b *BucketTable) Payload(bucket string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.Rows[bucket]
	return data, ok
}

type fakeDriver struct{ table *BucketTable }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &conn{table: d.table}, nil }

type conn struct{ table *BucketTable }

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare %q: unsupported", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	t := c.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailBegin {
		return nil, errors.New("begin refused")
	}
	t.pending = make(map[string][]byte)
	return tx{table: t}, nil
}

func (c *conn) Ping(context.Context) error {
	if c.table.FailPing {
		return errors.New("connection refused")
	}
	return nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	t := c.table
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Statements = append(t.Statements, query)
	switch verb(query) {
	case "CREATE":
		return driver.RowsAffected(0), nil
	case "INSERT":
		if t.FailUpsert {
			return nil, errors.New("upsert refused")
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("upsert: want 2 args, got %d", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("upsert: bucket is %T", args[0].Value)
		}
		payload, ok := args[1].Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("upsert: payload is %T", args[1].Value)
		}
		target := t.Rows
		if t.pending != nil {
			target = t.pending
		}
		target[bucket] = append([]byte(nil), payload...)
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("exec %q: unsupported", query)
	}
}

func (c *conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	t := c.table
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Statements = append(t.Statements, query)
	if verb(query) != "SELECT" {
		return nil, fmt.Errorf("query %q: unsupported", query)
	}
	buckets := make([]string, 0, len(t.Rows))
	for b := range t.Rows {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	out := &rows{err: t.IterErr}
	for _, b := range buckets {
		out.values = append(out.values, []driver.Value{b, append([]byte(nil), t.Rows[b]...)})
	}
	return out, nil
}

func verb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

type tx struct{ table *BucketTable }

func (x tx) Commit() error {
	t := x.table
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := t.pending
	t.pending = nil
	if t.FailCommit {
		return errors.New("commit refused")
	}
	for b, data := range pending {
		t.Rows[b] = data
	}
	return nil
}

func (x tx) Rollback() error {
	x.table.mu.Lock()
	x.table.pending = nil
	x.table.mu.Unlock()
	return nil
}

type rows struct {
	values [][]driver.Value
	next   int
	err    error
}

func (r *rows) Columns() []string { return []string{"bucket", "payload"} }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
