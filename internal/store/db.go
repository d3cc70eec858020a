package store

import (
	"database/sql"
	"fmt"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-logr/logr"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver, registered under "sqlite3"
)

// DB wraps the single sqlite3-backed record store file: one file
// carrying records, embeddings, FTS and consent tables, plus the
// system_flags single-row table, under WAL journaling.
type DB struct {
	sql  *sql.DB
	path string
	log  logr.Logger
}

// Open opens (creating if necessary) the record store file at
// filepath.Join(dataDir, filename), applies pending migrations, and
// enables WAL journal mode and foreign key enforcement.
func Open(dataDir, filename string, log logr.Logger) (*DB, error) {
	path, err := securejoin.SecureJoin(dataDir, filename)
	if err != nil {
		return nil, fmt.Errorf("store: resolving record store path: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: opening record store: %w", err)
	}
	// The sqlite3 driver does not support concurrent writers on the same
	// connection pool entry; the pipeline's single-writer discipline
	// (internal/store's Pipeline mutex) is the actual serialization point,
	// but capping the pool keeps driver-level contention predictable.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sql: sqlDB, path: path, log: log.WithName("store")}

	migrator, err := NewMigrator(sqlDB, log)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// Close checkpoints the WAL and closes the underlying database handle,
// so auxiliary journal files are truncated on clean shutdown.
func (db *DB) Close() error {
	if _, err := db.sql.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.log.Info("wal checkpoint on close failed", "error", err.Error())
	}
	return db.sql.Close()
}

// Path returns the resolved filesystem path of the record store file.
func (db *DB) Path() string { return db.path }

// Sql exposes the underlying *sql.DB for collaborators outside this
// package that need direct table access (the brake's flags table).
func (db *DB) Sql() *sql.DB { return db.sql }
