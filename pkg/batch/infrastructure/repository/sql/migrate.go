package sql

import (
	"embed"

	gormadaptor "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm"
)

// MigrationsTable records the applied repository schema version.
const MigrationsTable = "batch_schema_migrations"

//go:embed migrations
var migrationFS embed.FS

// Migrate creates or upgrades the repository schema for the dialect of conn.
func Migrate(conn *gormadaptor.GormDBAdapter) error {
	return gormadaptor.Migrate(conn, migrationFS, "migrations/"+conn.Type(), MigrationsTable)
}
