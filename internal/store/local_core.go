package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"codenerd/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable sqlite mirror for a single research-engine process.
// All writes within a task scope are serialized by mu; reads are optimistic.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	path       string
	vecEnabled bool
	dimensions int
}

// Open initializes the sqlite database at path, applying all pending
// migrations, and returns a ready Store.
func Open(path string, dimensions int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed (%s): %v", pragma, err)
		}
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &Store{db: db, path: path, dimensions: dimensions}
	s.vecEnabled = s.initVecIndex(dimensions)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// DB exposes the raw handle for packages that need ad hoc read-only queries
// (e.g. query_view templates in the control surface).
func (s *Store) DB() *sql.DB { return s.db }
