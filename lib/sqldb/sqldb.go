// Package sqldb opens the embedded sqlite database shared by the local store,
// the mutation queue and the freshness tracker.
//
// All users of one file share a single *sql.DB limited to one open connection.
// Every statement and transaction is therefore serialised, which is what makes
// queue enqueue and dequeue atomic with respect to each other.
package sqldb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lni/dragonboat/v4/logger"
	_ "modernc.org/sqlite"
)

var Logger = logger.GetLogger("sqldb")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens (and creates if needed) the sqlite database at path.
// The parent directory is created. Use MemoryPath for a throwaway database.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = MemoryPath
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// one connection: pragmas stick and writes never interleave
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	Logger.Debugf("opened sqlite database %s", path)
	return db, nil
}

// Migrate runs the given schema statements in one transaction.
// Statements must be idempotent (CREATE ... IF NOT EXISTS).
func Migrate(db *sql.DB, component string, statements ...string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%s: failed to begin migration: %w", component, err)
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: migration failed: %w", component, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: failed to commit migration: %w", component, err)
	}
	return nil
}
