package core

import (
	"fmt"
	"os"

	"daoforge/internal/infra/persistence/memory"
	"daoforge/internal/infra/persistence/postgres"
	"daoforge/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a ledger backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // process memory, lost on exit
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects and configures a ledger backend.
type StorageOptions struct {
	Driver      StorageDriver `toml:"driver"`
	SQLitePath  string        `toml:"sqlite_path"`
	PostgresDSN string        `toml:"postgres_dsn"`
}

// StorageOptionsFromEnv reads:
//
//	DAOFORGE_STORAGE_DRIVER  memory|sqlite|postgres (default sqlite)
//	DAOFORGE_SQLITE_PATH     sqlite file (default ./daoforge.db)
//	DAOFORGE_POSTGRES_DSN    DSN when driver=postgres
func StorageOptionsFromEnv() StorageOptions {
	return StorageOptions{
		Driver:      StorageDriver(os.Getenv("DAOFORGE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("DAOFORGE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("DAOFORGE_POSTGRES_DSN"),
	}
}

// OpenPersistentStore opens the backend opts selects, sqlite by default.
// A nil engine gets the default rule set.
func OpenPersistentStore(engine *RulesEngine, opts StorageOptions) (PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(opts.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(opts.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
