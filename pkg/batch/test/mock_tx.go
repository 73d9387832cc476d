package test

import (
	"context"
	"database/sql"
	"sync"

	"github.com/stretchr/testify/mock"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// MockTx is a testify mock of tx.Tx that also keeps after-commit callbacks.
type MockTx struct {
	mock.Mock

	mu          sync.Mutex
	afterCommit []func()
}

func (m *MockTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error) {
	args := m.Called(ctx, model, operation, tableName, query)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error) {
	args := m.Called(ctx, model, tableName, conflictColumns, updateColumns)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTx) Savepoint(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockTx) RollbackToSavepoint(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

// AfterCommit records the callback and runs it when TriggerAfterCommit is called.
func (m *MockTx) AfterCommit(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterCommit = append(m.afterCommit, fn)
}

// TriggerAfterCommit runs the callbacks registered with AfterCommit.
// Tests call it from a Commit expectation's Run function.
func (m *MockTx) TriggerAfterCommit() {
	m.mu.Lock()
	callbacks := m.afterCommit
	m.afterCommit = nil
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// MockTxManager is a testify mock of tx.TransactionManager. Begin returns a nil Tx when the
// first return value is nil, so tests can fail the chunk transaction.
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

func (m *MockTxManager) Commit(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockTxManager) Rollback(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

var (
	_ tx.Tx                 = (*MockTx)(nil)
	_ tx.Synchronizer       = (*MockTx)(nil)
	_ tx.TransactionManager = (*MockTxManager)(nil)
)
