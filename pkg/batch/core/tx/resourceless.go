package tx

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
)

// ErrNoResource is returned by write operations of a resourceless transaction.
var ErrNoResource = errors.New("resourceless transaction has no backing store")

// ErrTxCompleted is returned when a transaction is committed or rolled back twice.
var ErrTxCompleted = errors.New("transaction has already been completed")

// ResourcelessTx is a transaction with no backing store. It only tracks completion and
// after-commit callbacks, which is enough for in-memory sinks.
type ResourcelessTx struct {
	Synchronizations
	done atomic.Bool
}

func (t *ResourcelessTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, ErrNoResource
}

func (t *ResourcelessTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, ErrNoResource
}

func (t *ResourcelessTx) Savepoint(name string) error { return nil }

func (t *ResourcelessTx) RollbackToSavepoint(name string) error { return nil }

// ResourcelessTransactionManager hands out ResourcelessTx values.
// It is the default when a step is not bound to a database.
type ResourcelessTransactionManager struct {
	begun     atomic.Int64
	committed atomic.Int64
	rolled    atomic.Int64
}

// NewResourcelessTransactionManager creates a ResourcelessTransactionManager.
func NewResourcelessTransactionManager() *ResourcelessTransactionManager {
	return &ResourcelessTransactionManager{}
}

func (m *ResourcelessTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.begun.Add(1)
	return &ResourcelessTx{}, nil
}

func (m *ResourcelessTransactionManager) Commit(t Tx) error {
	rt, ok := t.(*ResourcelessTx)
	if !ok {
		return errors.New("invalid transaction type: expected *ResourcelessTx")
	}
	if !rt.done.CompareAndSwap(false, true) {
		return ErrTxCompleted
	}
	m.committed.Add(1)
	rt.TriggerAfterCommit()
	return nil
}

func (m *ResourcelessTransactionManager) Rollback(t Tx) error {
	rt, ok := t.(*ResourcelessTx)
	if !ok {
		return errors.New("invalid transaction type: expected *ResourcelessTx")
	}
	if !rt.done.CompareAndSwap(false, true) {
		return ErrTxCompleted
	}
	m.rolled.Add(1)
	rt.Clear()
	return nil
}

// Stats returns the number of begun, committed and rolled back transactions.
func (m *ResourcelessTransactionManager) Stats() (begun, committed, rolledBack int64) {
	return m.begun.Load(), m.committed.Load(), m.rolled.Load()
}
