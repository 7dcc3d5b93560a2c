// Package sqlite provides the embedded reading log used by edge deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"plcserver/internal/infra/persistence/sqlstore"
	"plcserver/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "db.sqlite"

// Dialect is the sqlite flavour of the reading tables.
var Dialect = sqlstore.Dialect{
	Name:            "sqlite",
	IDColumn:        "INTEGER PRIMARY KEY AUTOINCREMENT",
	TimestampColumn: "DATETIME DEFAULT CURRENT_TIMESTAMP",
	ValueTypes: map[domain.Quantity]string{
		domain.QuantityLevel:         "REAL",
		domain.QuantityValvePosition: "BOOLEAN",
		domain.QuantityThreshold:     "INTEGER",
	},
	Placeholder: func(int) string { return "?" },
}

// Options controls store construction.
type Options struct {
	// CreateSchema creates missing reading tables on open.
	CreateSchema bool
}

// Store is a sqlite-backed reading log.
type Store struct {
	*sqlstore.Log
	path string
}

// NewStore opens (creating if necessary) the sqlite file at path.
func NewStore(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if !isMemoryPath(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	log := sqlstore.New(db, Dialect)
	if opts.CreateSchema {
		if err := log.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	log.DetectColumns(ctx)
	return &Store{Log: log, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
