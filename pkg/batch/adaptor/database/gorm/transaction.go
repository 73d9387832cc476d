package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx over a GORM transaction.
// Callbacks registered with AfterCommit run once the transaction has committed.
type GormTxAdapter struct {
	tx.Synchronizations
	db   *gorm.DB
	done atomic.Bool
}

// GormDB returns the transaction-bound *gorm.DB.
func (t *GormTxAdapter) GormDB() *gorm.DB { return t.db }

// ExecuteUpdate implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(t.db.WithContext(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(t.db.WithContext(ctx), model, tableName, conflictColumns, updateColumns)
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// DB returns the *gorm.DB to use for ctx: the chunk transaction when ctx carries a
// GormTxAdapter, otherwise fallback bound to ctx.
func DB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if current, ok := tx.FromContext(ctx); ok {
		if gt, ok := current.(*GormTxAdapter); ok {
			return gt.db.WithContext(ctx)
		}
	}
	return fallback.WithContext(ctx)
}

// GormTransactionManager implements tx.TransactionManager over one connection.
type GormTransactionManager struct {
	conn *GormDBAdapter
}

// NewGormTransactionManager creates a new GormTransactionManager.
func NewGormTransactionManager(conn *GormDBAdapter) *GormTransactionManager {
	return &GormTransactionManager{conn: conn}
}

func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	var txOpts []*sql.TxOptions
	for _, o := range opts {
		if o != nil {
			txOpts = append(txOpts, o)
			break
		}
	}
	if len(txOpts) > 0 && txOpts[0].Isolation == sql.LevelDefault && !txOpts[0].ReadOnly {
		txOpts = nil
	}

	gormTx := m.conn.db.WithContext(ctx).Begin(txOpts...)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.conn.name, gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx}, nil
}

func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gt, err := asGormTx(t)
	if err != nil {
		return err
	}
	if err := gt.db.Commit().Error; err != nil {
		gt.Clear()
		return err
	}
	gt.TriggerAfterCommit()
	return nil
}

func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gt, err := asGormTx(t)
	if err != nil {
		return err
	}
	gt.Clear()
	return gt.db.Rollback().Error
}

func asGormTx(t tx.Tx) (*GormTxAdapter, error) {
	gt, ok := t.(*GormTxAdapter)
	if !ok {
		return nil, errors.New("invalid transaction type: expected *GormTxAdapter")
	}
	if !gt.done.CompareAndSwap(false, true) {
		return nil, tx.ErrTxCompleted
	}
	return gt, nil
}

var (
	_ tx.TransactionManager = (*GormTransactionManager)(nil)
	_ tx.Tx                 = (*GormTxAdapter)(nil)
	_ tx.Synchronizer       = (*GormTxAdapter)(nil)
)
