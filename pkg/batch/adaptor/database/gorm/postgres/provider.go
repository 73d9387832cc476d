// Package postgres registers the PostgreSQL dialect with the gorm adaptor.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/config"
	gormadaptor "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm"
)

// Type is the database type this package registers.
const Type = "postgres"

const (
	codeUndefinedTable       = "42P01"
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func init() {
	gormadaptor.RegisterDialector(Type, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(DSN(cfg)), nil
	})
	gormadaptor.RegisterErrorClassifier(Type, gormadaptor.ErrorClassifier{
		TableNotExist: func(err error) bool { return hasCode(err, codeUndefinedTable) },
		DuplicateKey:  func(err error) bool { return hasCode(err, codeUniqueViolation) },
		Retryable:     func(err error) bool {
			return hasCode(err, codeSerializationFailure) || hasCode(err, codeDeadlockDetected)
		},
	})
	gormadaptor.RegisterMigrationDriver(Type, func(db *sql.DB, table string) (database.Driver, error) {
		return migratepostgres.WithInstance(db, &migratepostgres.Config{MigrationsTable: table})
	})
}

// DSN builds a keyword/value connection string for pgx.
func DSN(c dbconfig.DatabaseConfig) string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += " search_path=" + c.Schema
	}
	return dsn
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
