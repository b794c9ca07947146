// Package store provides durable storage for the tracking engine: the
// ordered location delivery queue, the geofence set, and the persisted
// odometer. Uses SQLite with WAL mode for concurrent read access.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added (state, seq) index on locations
const currentSchemaVersion = 1

// Store wraps the SQLite database. Safe for concurrent use; SQLite's
// single-writer connection serializes mutations per logical operation.
type Store struct {
	db *sql.DB
}

// IOError is a storage-layer failure. Delivery and re-selection passes
// treat it as retryable; it is never fatal to the engine.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err is a storage I/O error.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}

func ioErr(op string, err error) error {
	return &IOError{Op: op, Err: err}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Any location left 'inflight' by a previous process crash is reverted
// to 'pending' so it becomes eligible for delivery again.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, ioErr("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ioErr("connect", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	// Crash recovery: an inflight row with no live delivery attempt is a
	// stale claim from a dead process.
	if _, err := db.Exec(`UPDATE locations SET state = 'pending' WHERE state = 'inflight'`); err != nil {
		db.Close()
		return nil, ioErr("recover inflight", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return ioErr(fmt.Sprintf("execute %q", pragma), err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return ioErr("execute schema", err)
	}

	if err := runMigrations(db); err != nil {
		return err
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return ioErr("get user_version", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return ioErr("set user_version", err)
	}

	return nil
}

// migrateToV1 adds the (state, seq) index for databases created before the
// index existed in schema.sql. CREATE INDEX IF NOT EXISTS is a safe no-op
// on new databases.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_locations_state_seq
		ON locations(state, seq)
	`)
	if err != nil {
		return ioErr("migrate to v1", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// inClause builds a "?,?,?" placeholder list and the matching args slice
// for an IN query over int64 keys.
func inClause(keys []int64) (string, []any) {
	placeholders := make([]byte, 0, len(keys)*2)
	args := make([]any, len(keys))
	for i, k := range keys {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = k
	}
	return string(placeholders), args
}
