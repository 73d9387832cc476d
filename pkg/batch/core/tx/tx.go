// Package tx provides the transaction abstraction used by the chunk transaction boundary.
// The engine only sequences Begin, Commit and Rollback calls; the backing store is
// supplied by an implementation such as the GORM adaptor or ResourcelessTransactionManager.
package tx

import (
	"context"
	"database/sql"
)

// TxExecutor defines the write operations executable within a transaction.
type TxExecutor interface {
	// ExecuteUpdate performs a write operation on the specified model.
	//
	// Parameters:
	//
	//	ctx: The context for the operation.
	//	model: A pointer to an entity, or a slice of entities, to write.
	//	operation: "CREATE", "UPDATE" or "DELETE".
	//	tableName: The target table; empty means the model's default table.
	//	query: Column conditions for UPDATE or DELETE, combined with AND.
	//
	// Returns the number of affected rows.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, or updates updateColumns when conflictColumns collide.
	// An empty updateColumns list means ON CONFLICT DO NOTHING.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
}

// Tx represents an ongoing transaction.
type Tx interface {
	TxExecutor

	// Savepoint creates a named savepoint within the transaction.
	Savepoint(name string) error
	// RollbackToSavepoint undoes changes made after the named savepoint.
	RollbackToSavepoint(name string) error
}

// Synchronizer is implemented by transactions that can run callbacks after a successful commit.
// Item writers use it to publish side effects only once the chunk is durable.
type Synchronizer interface {
	AfterCommit(fn func())
}

// TransactionManager manages the lifecycle of transactions.
type TransactionManager interface {
	// Begin starts a new transaction. The first non-nil option is used.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits t and runs its after-commit callbacks.
	Commit(t Tx) error
	// Rollback rolls back t and discards its after-commit callbacks.
	Rollback(t Tx) error
}

// RegisterAfterCommit runs fn after t commits when t is a Synchronizer, or immediately otherwise.
// It returns true if fn was deferred.
func RegisterAfterCommit(t Tx, fn func()) bool {
	if s, ok := t.(Synchronizer); ok {
		s.AfterCommit(fn)
		return true
	}
	fn()
	return false
}
