// Package postgres provides a Postgres-backed reading log for deployments that
// keep process history on a shared database server.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"plcserver/internal/infra/persistence/sqlstore"
	"plcserver/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/plcserver?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the Postgres flavour of the reading tables.
var Dialect = sqlstore.Dialect{
	Name:            "postgres",
	IDColumn:        "BIGSERIAL PRIMARY KEY",
	TimestampColumn: "TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP",
	ValueTypes: map[domain.Quantity]string{
		domain.QuantityLevel:         "DOUBLE PRECISION",
		domain.QuantityValvePosition: "BOOLEAN",
		domain.QuantityThreshold:     "INTEGER",
	},
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// Options controls store construction.
type Options struct {
	CreateSchema bool
}

// Store is a Postgres-backed reading log.
type Store struct {
	*sqlstore.Log
}

// NewStore opens a Postgres reading log using dsn (falls back to defaultDSN).
func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log := sqlstore.New(db, Dialect)
	if opts.CreateSchema {
		if err := log.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	log.DetectColumns(ctx)
	return &Store{Log: log}, nil
}

// OverrideSQLOpen swaps the sql.Open implementation, returning a restore func.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}
