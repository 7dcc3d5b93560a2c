package core

import (
	"context"
	"fmt"

	"plcserver/internal/infra/persistence/memory"
	"plcserver/internal/infra/persistence/postgres"
	"plcserver/internal/infra/persistence/sqlite"
	"plcserver/pkg/domain"
)

// StorageDriver identifies a concrete reading log implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects and configures a backend.
type StorageOptions struct {
	Driver       StorageDriver
	SQLitePath   string
	PostgresDSN  string
	CreateSchema bool
}

// OpenReadingBackend opens the backend named by opts.Driver (sqlite when empty).
func OpenReadingBackend(ctx context.Context, opts StorageOptions) (domain.ReadingBackend, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, opts.SQLitePath, sqlite.Options{CreateSchema: opts.CreateSchema})
	case StoragePostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN, postgres.Options{CreateSchema: opts.CreateSchema})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() domain.ReadingBackend { return memory.NewStore() }
