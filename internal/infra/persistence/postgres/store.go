// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics and writes every commit's records to a JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"medichain/internal/infra/persistence/memory"
	"medichain/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/medichain?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using dsn (defaultDSN when empty),
// ensures the records table exists and hydrates the in-memory store.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureRecordsTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	records, err := loadRecords(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db}
	s.Store = memory.NewStore(engine, append(slices.Clip(opts), memory.WithCommitHook(s.persist))...)
	if len(records) > 0 {
		snapshot, err := memory.SnapshotFromRecords(records)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.ImportState(snapshot)
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureRecordsTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS ledger_records (
		record_key TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ledger_records table: %w", err)
	}
	return nil
}

func loadRecords(ctx context.Context, db *sql.DB) ([]memory.Record, error) {
	rows, err := db.QueryContext(ctx, `SELECT record_key, payload FROM ledger_records`)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []memory.Record
	for rows.Next() {
		var rec memory.Record
		if err := rows.Scan(&rec.Key, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// persist upserts the records of one commit. It runs under the memory
// store's write lock, so readers keep seeing the previous state until the
// Postgres transaction has committed.
func (s *Store) persist(ctx context.Context, records []memory.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_records(record_key,payload) VALUES($1,$2) ON CONFLICT(record_key) DO UPDATE SET payload=EXCLUDED.payload`, rec.Key, rec.Payload); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
