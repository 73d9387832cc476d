package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ExecutionContextItemWriter is an ItemWriter that stores the number of items written to the ExecutionContext.
// It is primarily used for testing and debugging.
//
// The count of a chunk is added once its transaction commits, and reaches the ExecutionContext
// on the next Update.
type ExecutionContextItemWriter[I any] struct {
	key string // Key to store the count in the ExecutionContext.

	mu    sync.Mutex
	count int
}

// NewExecutionContextItemWriter creates a new instance of ExecutionContextItemWriter.
func NewExecutionContextItemWriter[I any](key string) *ExecutionContextItemWriter[I] {
	if key == "" {
		key = "writer.write_count"
	}
	return &ExecutionContextItemWriter[I]{key: key}
}

// Open restores the count from ec.
func (w *ExecutionContextItemWriter[I]) Open(ctx context.Context, ec model.ExecutionContext) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count, _ = ec.GetInt(w.key)
	logger.Debugf("ExecutionContextItemWriter: Open called, count restored to %d.", w.count)
	return nil
}

// Write counts items.
func (w *ExecutionContextItemWriter[I]) Write(ctx context.Context, t tx.Tx, items []I) error {
	n := len(items)
	add := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.count += n
	}
	if t == nil {
		add()
	} else {
		tx.RegisterAfterCommit(t, add)
	}
	logger.Debugf("ExecutionContextItemWriter: counted %d items for key '%s'.", n, w.key)
	return nil
}

// Update writes the committed count into ec.
//
// It runs before the commit of the current chunk, so the stored value covers the chunks
// committed before it. The final Update at step end covers all of them.
func (w *ExecutionContextItemWriter[I]) Update(ctx context.Context, ec model.ExecutionContext) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ec.Put(w.key, w.count)
	return nil
}

// Close closes resources.
func (w *ExecutionContextItemWriter[I]) Close(ctx context.Context) error {
	logger.Debugf("ExecutionContextItemWriter: Close called.")
	return nil
}

var (
	_ port.ItemWriter[any] = (*ExecutionContextItemWriter[any])(nil)
	_ port.ItemStream      = (*ExecutionContextItemWriter[any])(nil)
)
