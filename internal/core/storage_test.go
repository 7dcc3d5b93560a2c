package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"plcserver/internal/infra/persistence/memory"
	"plcserver/internal/infra/persistence/sqlite"
)

func TestOpenReadingBackendMemory(t *testing.T) {
	b, err := OpenReadingBackend(context.Background(), StorageOptions{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := b.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", b)
	}
}

func TestOpenReadingBackendDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	b, err := OpenReadingBackend(context.Background(), StorageOptions{SQLitePath: path, CreateSchema: true})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = b.Close() }()
	s, ok := b.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", b)
	}
	if s.Path() != path {
		t.Fatalf("unexpected path %s", s.Path())
	}
}

func TestOpenReadingBackendUnknownDriver(t *testing.T) {
	_, err := OpenReadingBackend(context.Background(), StorageOptions{Driver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
