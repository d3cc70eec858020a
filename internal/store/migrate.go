package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator manages the record store's schema migrations using the
// embedded SQL files, against the local sqlite3 driver.
type Migrator struct {
	m   *migrate.Migrate
	src io.Closer
	log logr.Logger
}

// NewMigrator builds a Migrator bound to an already-open database handle.
func NewMigrator(db *sql.DB, log logr.Logger) (*Migrator, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("store: creating migration source: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: creating sqlite3 migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("store: creating migrator: %w", err)
	}

	return &Migrator{m: m, src: source, log: log.WithName("migrator")}, nil
}

// Up applies all pending migrations.
func (mg *Migrator) Up() error {
	mg.log.Info("applying migrations")
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: applying migrations: %w", err)
	}
	v, dirty, _ := mg.m.Version()
	mg.log.Info("migrations applied", "version", v, "dirty", dirty)
	return nil
}

// Version returns the current schema version and dirty state.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Close releases the migrator's migration source. It does not close the
// database driver, whose Close would close the underlying *sql.DB that
// the caller owns.
func (mg *Migrator) Close() error {
	if srcErr := mg.src.Close(); srcErr != nil {
		return fmt.Errorf("store: closing migration source: %w", srcErr)
	}
	return nil
}
