package gorm_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/config"
	gormadaptor "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

type widget struct {
	ID   int64 `gorm:"primaryKey;autoIncrement:false"`
	Name string
}

func openSQLite(t *testing.T) *gormadaptor.GormDBAdapter {
	t.Helper()
	conn, err := gormadaptor.OpenDB("test", dbconfig.DatabaseConfig{Type: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.GormDB().AutoMigrate(&widget{}))
	return conn
}

func countWidgets(t *testing.T, conn *gormadaptor.GormDBAdapter) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.GormDB().Model(&widget{}).Count(&n).Error)
	return n
}

func TestOpenDB_UnknownType(t *testing.T) {
	_, err := gormadaptor.OpenDB("x", dbconfig.DatabaseConfig{Type: "oracle", Database: "db", Host: "h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dialector registered")

	_, err = gormadaptor.OpenDB("x", dbconfig.DatabaseConfig{Type: "sqlite"})
	assert.Error(t, err)
}

func TestGormTransactionManager_CommitRunsAfterCommit(t *testing.T) {
	conn := openSQLite(t)
	tm := gormadaptor.NewGormTransactionManager(conn)
	ctx := context.Background()

	current, err := tm.Begin(ctx)
	require.NoError(t, err)

	rows, err := current.ExecuteUpsert(ctx, &[]widget{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, "", []string{"id"}, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	published := false
	assert.True(t, tx.RegisterAfterCommit(current, func() { published = true }))
	assert.False(t, published)

	require.NoError(t, tm.Commit(current))
	assert.True(t, published)
	assert.Equal(t, int64(2), countWidgets(t, conn))
	assert.ErrorIs(t, tm.Commit(current), tx.ErrTxCompleted)
}

func TestGormTransactionManager_RollbackDiscards(t *testing.T) {
	conn := openSQLite(t)
	tm := gormadaptor.NewGormTransactionManager(conn)
	ctx := context.Background()

	current, err := tm.Begin(ctx)
	require.NoError(t, err)
	_, err = current.ExecuteUpdate(ctx, &widget{ID: 1, Name: "a"}, "CREATE", "", nil)
	require.NoError(t, err)

	published := false
	tx.RegisterAfterCommit(current, func() { published = true })
	require.NoError(t, tm.Rollback(current))

	assert.False(t, published)
	assert.Zero(t, countWidgets(t, conn))
	assert.ErrorIs(t, tm.Rollback(current), tx.ErrTxCompleted)
}

func TestGormTxAdapter_UpsertAndSavepoint(t *testing.T) {
	conn := openSQLite(t)
	tm := gormadaptor.NewGormTransactionManager(conn)
	ctx := context.Background()

	current, err := tm.Begin(ctx)
	require.NoError(t, err)
	_, err = current.ExecuteUpsert(ctx, &widget{ID: 1, Name: "a"}, "", []string{"id"}, []string{"name"})
	require.NoError(t, err)
	require.NoError(t, current.Savepoint("sp1"))
	_, err = current.ExecuteUpsert(ctx, &widget{ID: 1, Name: "changed"}, "", []string{"id"}, []string{"name"})
	require.NoError(t, err)
	_, err = current.ExecuteUpsert(ctx, &widget{ID: 2, Name: "b"}, "", []string{"id"}, []string{"name"})
	require.NoError(t, err)
	require.NoError(t, current.RollbackToSavepoint("sp1"))
	_, err = current.ExecuteUpsert(ctx, &widget{ID: 1, Name: "kept"}, "", []string{"id"}, nil)
	require.NoError(t, err)
	require.NoError(t, tm.Commit(current))

	var got []widget
	require.NoError(t, conn.GormDB().Order("id").Find(&got).Error)
	assert.Equal(t, []widget{{ID: 1, Name: "a"}}, got, "DO NOTHING keeps the existing row")
}

func TestDB_PrefersContextTransaction(t *testing.T) {
	conn := openSQLite(t)
	tm := gormadaptor.NewGormTransactionManager(conn)
	ctx := context.Background()

	current, err := tm.Begin(ctx)
	require.NoError(t, err)
	txCtx := tx.WithTx(ctx, current)

	require.NoError(t, gormadaptor.DB(txCtx, conn.GormDB()).Create(&widget{ID: 7, Name: "in-tx"}).Error)
	require.NoError(t, tm.Rollback(current))
	assert.Zero(t, countWidgets(t, conn))

	require.NoError(t, gormadaptor.DB(ctx, conn.GormDB()).Create(&widget{ID: 8, Name: "direct"}).Error)
	assert.Equal(t, int64(1), countWidgets(t, conn))
}

func TestErrorClassification(t *testing.T) {
	conn := openSQLite(t)
	ctx := context.Background()

	err := conn.GormDB().Table("missing_table").Find(&[]widget{}).Error
	require.Error(t, err)
	assert.True(t, gormadaptor.IsTableNotExistError(err))
	assert.False(t, gormadaptor.IsDuplicateKeyError(err))

	_, err = conn.ExecuteUpdate(ctx, &widget{ID: 1, Name: "a"}, "CREATE", "", nil)
	require.NoError(t, err)
	_, err = conn.ExecuteUpdate(ctx, &widget{ID: 1, Name: "a"}, "CREATE", "", nil)
	require.Error(t, err)
	assert.True(t, gormadaptor.IsDuplicateKeyError(err))
	assert.False(t, gormadaptor.IsTableNotExistError(err))

	assert.False(t, gormadaptor.IsTableNotExistError(nil))
	assert.True(t, gormadaptor.IsTableNotExistError(errors.New(`ERROR: relation "x" does not exist`)))

	_, err = conn.ExecuteUpdate(ctx, &widget{}, "MERGE", "", nil)
	assert.Error(t, err)
}

func TestMigrate_AppliesOnce(t *testing.T) {
	conn := openSQLite(t)
	migrations := fstest.MapFS{
		"migrations/000001_create_gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY, name TEXT);")},
		"migrations/000001_create_gadgets.down.sql": {Data: []byte("DROP TABLE gadgets;")},
	}

	require.NoError(t, gormadaptor.Migrate(conn, migrations, "migrations", "schema_migrations"))
	require.NoError(t, gormadaptor.Migrate(conn, migrations, "migrations", "schema_migrations"))

	assert.True(t, conn.GormDB().Migrator().HasTable("gadgets"))
	require.NoError(t, conn.Ping(context.Background()), "the connection stays open after migrating")
}

func TestExecuteUpsert_MySQLStatementShape(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{})
	require.NoError(t, err)
	conn, err := gormadaptor.NewGormDBAdapter(gdb, dbconfig.DatabaseConfig{Type: "mysql"}, "mock")
	require.NoError(t, err)
	tm := gormadaptor.NewGormTransactionManager(conn)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `items`") + ".*ON DUPLICATE KEY UPDATE `name`").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ctx := context.Background()
	current, err := tm.Begin(ctx)
	require.NoError(t, err)
	rows, err := current.ExecuteUpsert(ctx, &[]widget{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, "items", []string{"id"}, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)
	require.NoError(t, tm.Commit(current))

	assert.NoError(t, mock.ExpectationsWereMet())
}
