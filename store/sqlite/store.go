package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ calendar.Store     = (*Store)(nil)
	_ job.Store          = (*Store)(nil)
	_ run.Store          = (*Store)(nil)
	_ trigger.Store      = (*Store)(nil)
	_ event.Store        = (*Store)(nil)
	_ cluster.Store      = (*Store)(nil)
	_ cluster.Leadership = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock sets the time source used for lock and lease expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens the database at dsn, e.g. "file:cadence.db" or ":memory:",
// and applies the connection settings the store relies on. The returned
// store closes the database on Close.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cadence/sqlite: open: %w", err)
	}
	// One connection serializes writers and keeps an in-memory database
	// alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cadence/sqlite: %s: %w", pragma, err)
		}
	}

	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing database handle. The caller owns db; Close does
// not close it. db should allow a single open connection.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate runs all embedded SQL migration files in order. Each file and
// its bookkeeping row commit together.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cadence_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", cadence.ErrMigrationFailed, err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: read migrations: %w", cadence.ErrMigrationFailed, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM cadence_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("%w: check %s: %w", cadence.ErrMigrationFailed, entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("%w: read %s: %w", cadence.ErrMigrationFailed, entry.Name(), readErr)
		}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if _, execErr := tx.ExecContext(ctx, string(data)); execErr != nil {
				return fmt.Errorf("execute: %w", execErr)
			}
			_, recErr := tx.ExecContext(ctx,
				`INSERT INTO cadence_migrations (filename, applied_at) VALUES (?, ?)`,
				entry.Name(), s.now().UnixNano(),
			)
			return recErr
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %w", cadence.ErrMigrationFailed, entry.Name(), err)
		}

		s.logger.Info("applied migration", slog.String("file", entry.Name()))
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
