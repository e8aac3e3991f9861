// Package sqlite provides a SQLite-backed persistent store that keeps the
// ledger in memory and writes the records each commit touches to a single
// table before the commit becomes visible.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"medichain/internal/infra/persistence/memory"
	"medichain/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "medichain.db"

// Store persists the in-memory state to SQLite as JSON blobs, one row per
// record key.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path and hydrates the
// in-memory store from any records found there.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ledger_records (
		record_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger_records table: %w", err)
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(engine, append(slices.Clip(opts), memory.WithCommitHook(s.persist))...)
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT record_key, payload FROM ledger_records`)
	if err != nil {
		return fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var records []memory.Record
	for rows.Next() {
		var rec memory.Record
		if err := rows.Scan(&rec.Key, &rec.Payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	snapshot, err := memory.SnapshotFromRecords(records)
	if err != nil {
		return err
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist(ctx context.Context, records []memory.Record) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ledger_records(record_key,payload) VALUES(?,?) ON CONFLICT(record_key) DO UPDATE SET payload=excluded.payload`, rec.Key, rec.Payload); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.Key, err)
		}
	}
	return tx.Commit()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
