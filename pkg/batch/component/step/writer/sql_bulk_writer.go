// Package writer provides item writers that persist chunks to external systems.
package writer

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SqlBulkWriter is an implementation of [port.ItemWriter] that performs bulk writes to a database.
// It participates in the chunk transaction and uses [tx.TxExecutor.ExecuteUpsert], so the
// rows of a chunk become visible only when the chunk commits.
type SqlBulkWriter[T any] struct {
	name            string   // name is the unique name of the writer instance, used for logging.
	bulkSize        int      // bulkSize is the maximum number of items per statement.
	tableName       string   // tableName is the name of the target database table.
	conflictColumns []string // conflictColumns are the columns used for conflict resolution (e.g., primary keys).
	updateColumns   []string // updateColumns are the columns to update on conflict (empty for DO NOTHING).
}

// NewSqlBulkWriter creates a new instance of [SqlBulkWriter].
// A bulkSize below 1 writes each chunk with a single statement.
func NewSqlBulkWriter[T any](name string, bulkSize int, tableName string, conflictColumns []string, updateColumns []string) *SqlBulkWriter[T] {
	return &SqlBulkWriter[T]{
		name:            name,
		bulkSize:        bulkSize,
		tableName:       tableName,
		conflictColumns: conflictColumns,
		updateColumns:   updateColumns,
	}
}

// Verify that [SqlBulkWriter] implements the [port.ItemWriter] interface at compile time.
var _ port.ItemWriter[any] = (*SqlBulkWriter[any])(nil)

// Write upserts items with the chunk transaction.
func (w *SqlBulkWriter[T]) Write(ctx context.Context, currentTx tx.Tx, items []T) error {
	if len(items) == 0 {
		return nil // Do nothing if there are no items to write.
	}
	if currentTx == nil {
		return exception.NewBatchError("writer", fmt.Sprintf("SqlBulkWriter '%s' requires a transaction", w.name), nil, false, false)
	}

	size := w.bulkSize
	if size < 1 {
		size = len(items)
	}
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunk := items[i:end]

		if _, err := currentTx.ExecuteUpsert(ctx, chunk, w.tableName, w.conflictColumns, w.updateColumns); err != nil {
			return exception.NewBatchError("writer", fmt.Sprintf("failed to bulk upsert data for SqlBulkWriter '%s' (start index %d)", w.name, i), err, false, false)
		}
		logger.Debugf("SqlBulkWriter '%s': wrote %d items (start index %d).", w.name, len(chunk), i)
	}
	return nil
}

// GetResourcePath returns the target table name.
func (w *SqlBulkWriter[T]) GetResourcePath() string {
	return w.tableName
}
