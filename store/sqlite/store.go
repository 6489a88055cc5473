// Package sqlite provides a SQLite-backed job store using database/sql
// with the modernc.org/sqlite driver.
//
// SQLite allows a single writer at a time, so the store caps the
// connection pool at one connection and relies on transactions for the
// claim path. Timestamps are stored as integer Unix nanoseconds to keep
// scanning driver-independent.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/store"
)

var _ store.Store = (*Store)(nil)

// Store is a SQLite job store. Suitable for single-process deployments
// and tests; use the postgres store when multiple processes share a
// queue.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens (or creates) a SQLite database at path. Use ":memory:" for
// an ephemeral in-process store.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("relayq/sqlite: open %q: %w", path, err)
	}

	// One writer at a time; a second connection would only ever see
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("relayq/sqlite: set pragmas: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS relayq_jobs (
	id            TEXT PRIMARY KEY,
	queue         TEXT NOT NULL DEFAULT 'default',
	payload       BLOB,
	state         TEXT NOT NULL DEFAULT 'waiting',
	priority      INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	last_error    TEXT NOT NULL DEFAULT '',
	result        BLOB,
	worker_id     TEXT NOT NULL DEFAULT '',
	delay_until   INTEGER,
	started_at    INTEGER,
	finished_at   INTEGER,
	timeout_ns    INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relayq_jobs_claim
	ON relayq_jobs (queue, state, priority DESC, created_at ASC);

CREATE INDEX IF NOT EXISTS idx_relayq_jobs_promote
	ON relayq_jobs (state, delay_until ASC);
`

// Migrate creates the jobs table and indexes. Safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("relayq/sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ── helpers ──────────────────────────────────────────────────────

// wrapErr tags a driver failure so callers can match
// relayq.ErrPersistence regardless of backend.
func wrapErr(op string, err error) error {
	return fmt.Errorf("relayq/sqlite: %s: %w", op, errors.Join(relayq.ErrPersistence, err))
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
