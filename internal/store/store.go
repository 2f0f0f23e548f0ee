// Package store implements reverie's persistence layer on SQLite. It uses
// modernc.org/sqlite (pure Go, no CGO) with WAL mode, a busy timeout, and
// a single connection — SQLite serialises writes, and one connection
// keeps PRAGMAs applied consistently.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ferrant/reverie/internal/conversation"
	"github.com/ferrant/reverie/internal/delivery"
	"github.com/ferrant/reverie/internal/jobguard"
	"github.com/ferrant/reverie/internal/jobs"
	"github.com/ferrant/reverie/internal/pipeline"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Compile-time interface guards.
var (
	_ conversation.Store     = (*Store)(nil)
	_ delivery.EventStore    = (*Store)(nil)
	_ jobguard.RunStore      = (*Store)(nil)
	_ pipeline.ArtifactStore = (*Store)(nil)
	_ jobs.MaintenanceStore  = (*Store)(nil)
)

// Options configures Open.
type Options struct {
	// Path is the database file path.
	Path string

	// WAL enables WAL journal mode. Defaults to true via config.
	WAL bool

	// BusyTimeout is the milliseconds to wait on a busy lock.
	BusyTimeout int
}

// Store is the SQLite-backed implementation of every persistence
// interface in the system: conversations, scheduled events, job runs, and
// pipeline artifacts.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the database at opts.Path, applies
// PRAGMAs, and migrates the schema.
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.Path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if opts.WAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: enable WAL: %w", err)
		}
	}

	if opts.BusyTimeout > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: set busy_timeout: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("store opened", "path", opts.Path, "wal", opts.WAL)

	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
