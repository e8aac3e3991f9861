// Package leveldb provides an embedded goleveldb-backed persistent store. Each
// ledger record lives under its own key and every commit writes the records it
// touched in one atomic batch.
package leveldb

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"medichain/internal/infra/persistence/memory"
	"medichain/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultPath = "medichain.ldb"
	keyPrefix   = "ledger/"
)

// Store keeps the ledger in memory and mirrors it into a LevelDB directory.
type Store struct {
	*memory.Store
	db   *leveldb.DB
	path string
	sync bool
}

// NewStore opens (creating if needed) the LevelDB directory at path and
// hydrates the in-memory store from it.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	s := &Store{db: db, path: path, sync: true}
	s.Store = memory.NewStore(engine, append(slices.Clip(opts), memory.WithCommitHook(s.persist))...)
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func recordKey(key string) []byte { return []byte(keyPrefix + key) }

func (s *Store) load() error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	var records []memory.Record
	for iter.Next() {
		records = append(records, memory.Record{
			Key:     strings.TrimPrefix(string(iter.Key()), keyPrefix),
			Payload: append([]byte(nil), iter.Value()...),
		})
	}
	iter.Release()
	if err := iter.Error(); err != nil {
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

func (s *Store) persist(_ context.Context, records []memory.Record) error {
	batch := new(leveldb.Batch)
	for _, rec := range records {
		batch.Put(recordKey(rec.Key), rec.Payload)
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: s.sync}); err != nil {
		return fmt.Errorf("write leveldb batch: %w", err)
	}
	return nil
}

// Path returns the database directory.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
