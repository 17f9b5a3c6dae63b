package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

// Source returns the embedded migrations as a golang-migrate source driver.
func Source() (source.Driver, error) {
	return iofs.New(MigrationFiles, ".")
}

// migrator is the subset of *migrate.Migrate the runner drives.
type migrator interface {
	Version() (uint, bool, error)
	Force(version int) error
	Up() error
}

// RunMigrations brings the credential and feature flag tables up to date.
// With autoMigrate off it only reports the schema version, after clearing a
// dirty state left by an interrupted run.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	src, err := Source()
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("open migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	return apply(m, autoMigrate)
}

func apply(m migrator, autoMigrate bool) error {
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}

	if dirty {
		target := recoveryTarget(version)
		slog.Warn("[Postgres] Schema left dirty, re-running last migration",
			"version", version,
			"forced_to", target)
		if err := m.Force(target); err != nil {
			return fmt.Errorf("clear dirty schema version %d: %w", version, err)
		}
	}

	if !autoMigrate {
		slog.Info("[Postgres] Auto-migrate off", "schema_version", version)
		return nil
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Postgres] Schema current", "schema_version", version)
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	applied, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version after migrating: %w", err)
	}
	slog.Info("[Postgres] Schema migrated", "from", version, "to", applied)
	return nil
}

// recoveryTarget is the version to force a dirty schema back to so Up re-runs
// the interrupted migration. Every migration is idempotent. -1 means no
// version.
func recoveryTarget(dirty uint) int {
	if dirty <= 1 {
		return -1
	}
	return int(dirty) - 1
}
