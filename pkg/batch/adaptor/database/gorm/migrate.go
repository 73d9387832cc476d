package gorm

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// MigrationDriverFactory creates a golang-migrate database driver over an open *sql.DB.
type MigrationDriverFactory func(db *sql.DB, migrationsTable string) (database.Driver, error)

var (
	migrationMu      sync.RWMutex
	migrationDrivers = map[string]MigrationDriverFactory{}
)

// RegisterMigrationDriver registers the migration driver of a dialect.
func RegisterMigrationDriver(dbType string, factory MigrationDriverFactory) {
	migrationMu.Lock()
	defer migrationMu.Unlock()
	migrationDrivers[dbType] = factory
}

// Migrate applies all pending up migrations found under dir in migrations.
// migrate.ErrNoChange is not an error.
func Migrate(conn *GormDBAdapter, migrations fs.FS, dir string, migrationsTable string) error {
	migrationMu.RLock()
	factory, ok := migrationDrivers[conn.Type()]
	migrationMu.RUnlock()
	if !ok {
		return fmt.Errorf("unsupported database type for migration: %s", conn.Type())
	}

	logger.Infof("Executing migration 'up' (DB: %s, Path: %s, Table: %s)", conn.Name(), dir, migrationsTable)

	sourceDriver, err := iofs.New(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver for path %s: %w", dir, err)
	}
	// migrate.Close would also close the shared *sql.DB, so only the source is released.
	defer sourceDriver.Close()

	dbDriver, err := factory(conn.SQLDB(), migrationsTable)
	if err != nil {
		return fmt.Errorf("failed to create migration database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, conn.Type(), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := m.Version(); verr == nil {
			logger.Errorf("Migration stopped at version %d (dirty: %t).", version, dirty)
		}
		return fmt.Errorf("migration failed (DB: %s, Path: %s): %w", conn.Name(), dir, err)
	}

	logger.Infof("Migration 'up' completed successfully on '%s'.", conn.Name())
	return nil
}
