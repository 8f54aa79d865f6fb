package storage

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// withMigrator runs fn against a migrator for the purchase schema and
// closes it afterwards. migrate.ErrNoChange is not an error: an
// already-current schema is the normal steady state.
func withMigrator(databaseURL, migrationsPath string, fn func(*migrate.Migrate) error) error {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	if err := fn(m); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// RunMigrations applies all pending purchase schema migrations
func RunMigrations(databaseURL, migrationsPath string) error {
	if err := withMigrator(databaseURL, migrationsPath, (*migrate.Migrate).Up); err != nil {
		return fmt.Errorf("failed to apply purchase schema migrations: %w", err)
	}
	return nil
}

// RollbackMigrations rolls back the last purchase schema migration
func RollbackMigrations(databaseURL, migrationsPath string) error {
	err := withMigrator(databaseURL, migrationsPath, func(m *migrate.Migrate) error {
		return m.Steps(-1)
	})
	if err != nil {
		return fmt.Errorf("failed to roll back purchase schema migration: %w", err)
	}
	return nil
}

// MigrationVersion returns the current purchase schema version
func MigrationVersion(databaseURL, migrationsPath string) (version uint, dirty bool, err error) {
	err = withMigrator(databaseURL, migrationsPath, func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if verr == migrate.ErrNilVersion {
			return nil
		}
		return verr
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to read purchase schema version: %w", err)
	}
	return version, dirty, nil
}
