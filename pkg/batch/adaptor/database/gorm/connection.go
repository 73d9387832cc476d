package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/config"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// GormDBAdapter is a named GORM connection. Its ExecuteUpdate and ExecuteUpsert run in
// auto-commit mode; chunk writes go through GormTxAdapter instead.
type GormDBAdapter struct {
	db    *gorm.DB
	sqlDB *sql.DB
	cfg   dbconfig.DatabaseConfig
	name  string
}

// OpenDB opens the connection described by cfg.
//
// The dialect must have been registered by importing its subpackage. SQLite connections
// default to a single open connection, since SQLite serializes writers.
func OpenDB(name string, cfg dbconfig.DatabaseConfig) (*GormDBAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration '%s': %w", name, err)
	}
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(cfg.LogLevel)})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection '%s': %w", name, err)
	}

	if cfg.Type == "sqlite" && cfg.Pool.MaxOpenConns == 0 {
		cfg.Pool.MaxOpenConns = 1
	}
	adapter, err := NewGormDBAdapter(db, cfg, name)
	if err != nil {
		return nil, err
	}
	adapter.applyPool()
	logger.Infof("Established new DB connection: %s (%s)", name, cfg.Type)
	return adapter, nil
}

// OpenFromProperties decodes a database.<name> section and opens it.
func OpenFromProperties(name string, properties map[string]interface{}) (*GormDBAdapter, error) {
	var cfg dbconfig.DatabaseConfig
	if err := configbinder.BindProperties(properties, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	return OpenDB(name, cfg)
}

// NewGormDBAdapter wraps an already opened *gorm.DB.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) (*GormDBAdapter, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &GormDBAdapter{db: db, sqlDB: sqlDB, cfg: cfg, name: name}, nil
}

func (a *GormDBAdapter) applyPool() {
	pool := a.cfg.Pool
	if pool.MaxOpenConns > 0 {
		a.sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		a.sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetimeMinutes > 0 {
		a.sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
}

// GormDB returns the underlying *gorm.DB.
func (a *GormDBAdapter) GormDB() *gorm.DB { return a.db }

// SQLDB returns the underlying *sql.DB, for migration tools and raw SQL readers.
func (a *GormDBAdapter) SQLDB() *sql.DB { return a.sqlDB }

func (a *GormDBAdapter) Name() string { return a.name }

func (a *GormDBAdapter) Type() string { return a.cfg.Type }

func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig { return a.cfg }

// Ping checks that the connection pool can reach the database.
func (a *GormDBAdapter) Ping(ctx context.Context) error {
	return a.sqlDB.PingContext(ctx)
}

func (a *GormDBAdapter) Close() error {
	logger.Infof("Closing database connection '%s'...", a.name)
	return a.sqlDB.Close()
}

// ExecuteUpdate implements tx.TxExecutor outside of a transaction.
func (a *GormDBAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	db := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	return executeUpdate(db, model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor outside of a transaction.
func (a *GormDBAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	db := a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	return executeUpsert(db, model, tableName, conflictColumns, updateColumns)
}

func executeUpdate(db *gorm.DB, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		// db.Model(model) adds the primary key condition.
		db = db.Model(model)
		if query != nil {
			db = db.Where(query)
		}
		result = db.Updates(model)
	case "DELETE":
		if query != nil {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func executeUpsert(db *gorm.DB, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

var _ tx.TxExecutor = (*GormDBAdapter)(nil)
