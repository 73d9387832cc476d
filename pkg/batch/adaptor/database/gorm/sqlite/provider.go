// Package sqlite registers the SQLite dialect with the gorm adaptor.
package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4/database"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/config"
	gormadaptor "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm"
)

// Type is the database type this package registers.
const Type = "sqlite"

func init() {
	gormadaptor.RegisterDialector(Type, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("sqlite database path cannot be empty")
		}
		return sqlite.Open(DSN(cfg)), nil
	})
	gormadaptor.RegisterErrorClassifier(Type, gormadaptor.ErrorClassifier{
		TableNotExist: isTableNotExist,
		DuplicateKey:  isDuplicateKey,
		Retryable:     isBusy,
	})
	gormadaptor.RegisterMigrationDriver(Type, func(db *sql.DB, table string) (database.Driver, error) {
		return migratesqlite.WithInstance(db, &migratesqlite.Config{MigrationsTable: table})
	})
}

// DSN returns the file path, which is what the SQLite dialector expects.
func DSN(cfg dbconfig.DatabaseConfig) string {
	return cfg.Database
}

func isTableNotExist(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		sqliteErr.Code == sqlite3.ErrError &&
		strings.Contains(sqliteErr.Error(), "no such table")
}

func isDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked)
}
