package core

import (
	"fmt"

	"medichain/internal/config"
	"medichain/internal/infra/persistence/leveldb"
	"medichain/internal/infra/persistence/memory"
	"medichain/internal/infra/persistence/postgres"
	"medichain/internal/infra/persistence/sqlite"
	"medichain/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageLevelDB  StorageDriver = "leveldb"  // embedded goleveldb directory
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore selects a backend from cfg.StorageDriver. Empty means
// sqlite. A nil clock uses the monotonic wall clock.
func OpenPersistentStore(cfg config.Config, engine *RulesEngine, clock Clock) (PersistentStore, error) {
	var opts []memory.Option
	if clock != nil {
		opts = append(opts, memory.WithClock(clock))
	}
	driver := StorageDriver(cfg.StorageDriver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine, opts...)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine, opts...)
	case StorageLevelDB:
		return leveldb.NewStore(cfg.LevelDBPath, engine, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
