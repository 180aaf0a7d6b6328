// Package sqlite implements the storage interfaces on SQLite via the
// ncruces/go-sqlite3 driver (pure Go, embedded). One coordinator process
// owns the database file; concurrent writers serialize through BEGIN
// IMMEDIATE transactions, and readers run against the same pool.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/tascade/tascade/internal/storage"
)

// busyTimeoutMS is how long a connection waits on a locked database before
// failing. High enough to ride out slow transactions, low enough to surface
// real deadlocks.
const busyTimeoutMS = 5000

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx. Every
// query helper in this package runs against it, so the same code serves
// both direct reads and transactional reads.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries carries the Reader implementation over a dbtx. Store and Tx both
// embed it.
type queries struct {
	q dbtx
}

// Store is the SQLite-backed storage.Storage implementation.
type Store struct {
	queries
	db   *sql.DB
	path string
}

// Tx is the SQLite-backed storage.Transaction implementation.
type Tx struct {
	queries
	tx *sql.Tx
}

var (
	_ storage.Storage     = (*Store)(nil)
	_ storage.Transaction = (*Tx)(nil)
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// connString builds the DSN: busy timeout, foreign keys on, SQLite-native
// time encoding, and immediate transactions so writers take the write lock
// at BEGIN rather than deadlocking on upgrade.
func connString(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_time_format=sqlite&_txlock=immediate",
		path, busyTimeoutMS)
}

// New opens (creating if needed) the database at dbPath, applies the schema
// and any pending migrations, and returns the store.
func New(ctx context.Context, dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", connString(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{queries: queries{q: db}, db: db, path: dbPath}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := runMigrations(ctx, s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying handle for extensions and maintenance tooling.
// Kernel code goes through the Storage interface instead.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTransaction runs fn inside a single immediate transaction. fn's
// error (or panic) rolls everything back, including appended events.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	t := &Tx{queries: queries{q: sqlTx}, tx: sqlTx}

	done := false
	defer func() {
		if !done {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(t); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	done = true
	return nil
}
