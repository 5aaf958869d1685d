package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrateLogger adapts monitoring.Logf to migrate.Logger.
type migrateLogger struct {
	logf func(format string, v ...interface{})
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// newMigrate builds a migrate.Migrate instance over the embedded
// migrations and the given postgres connection string. databaseURL must
// use the postgres:// scheme; migrate's postgres driver is registered
// by this package's blank import.
func newMigrate(databaseURL string, logf func(string, ...interface{})) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	if logf != nil {
		m.Log = &migrateLogger{logf: logf}
	}
	return m, nil
}

// MigrateUp applies every pending migration.
func MigrateUp(databaseURL string, logf func(string, ...interface{})) error {
	m, err := newMigrate(databaseURL, logf)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recently applied migration.
func MigrateDown(databaseURL string, logf func(string, ...interface{})) error {
	m, err := newMigrate(databaseURL, logf)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion reports the currently applied migration version.
func MigrateVersion(databaseURL string) (version uint, dirty bool, err error) {
	m, err := newMigrate(databaseURL, nil)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()
	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
