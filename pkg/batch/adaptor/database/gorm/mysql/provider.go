// Package mysql registers the MySQL dialect with the gorm adaptor.
package mysql

import (
	"database/sql"
	"errors"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/config"
	gormadaptor "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm"
)

// Type is the database type this package registers.
const Type = "mysql"

const (
	errNoSuchTable     = 1146
	errDuplicateKey    = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

func init() {
	gormadaptor.RegisterDialector(Type, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(DSN(cfg)), nil
	})
	gormadaptor.RegisterErrorClassifier(Type, gormadaptor.ErrorClassifier{
		TableNotExist: func(err error) bool { return hasNumber(err, errNoSuchTable) },
		DuplicateKey:  func(err error) bool { return hasNumber(err, errDuplicateKey) },
		Retryable:     func(err error) bool {
			return hasNumber(err, errDeadlock) || hasNumber(err, errLockWaitTimeout)
		},
	})
	gormadaptor.RegisterMigrationDriver(Type, func(db *sql.DB, table string) (database.Driver, error) {
		return migratemysql.WithInstance(db, &migratemysql.Config{MigrationsTable: table})
	})
}

// DSN builds user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local.
func DSN(c dbconfig.DatabaseConfig) string {
	var authPart string
	if c.User != "" {
		authPart = c.User
		if c.Password != "" {
			authPart = fmt.Sprintf("%s:%s", c.User, c.Password)
		}
		authPart += "@"
	}
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%stcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		authPart, c.Host, port, c.Database)
}

func hasNumber(err error, number uint16) bool {
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}
