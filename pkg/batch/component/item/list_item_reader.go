// Package item provides general purpose item readers and writers.
package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ListItemReader reads items from a slice. It is safe for concurrent use.
//
// The reader is restartable: Update stores the number of items consumed under
// "<name>.read.count", and Open skips that many items.
type ListItemReader[T any] struct {
	name  string
	items []T

	mu  sync.Mutex
	pos int
}

// NewListItemReader creates a reader over a copy of items.
func NewListItemReader[T any](name string, items []T) *ListItemReader[T] {
	return &ListItemReader[T]{name: name, items: append([]T(nil), items...)}
}

func (r *ListItemReader[T]) readCountKey() string {
	return r.name + ".read.count"
}

// Open restores the read position from ec.
func (r *ListItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
	if offset, ok := ec.GetInt(r.readCountKey()); ok && offset > 0 {
		if offset > len(r.items) {
			offset = len(r.items)
		}
		r.pos = offset
		logger.Infof("ListItemReader '%s': resuming after %d items.", r.name, offset)
	}
	return nil
}

// Read returns the next item, or port.ErrNoMoreItems once the slice is exhausted.
func (r *ListItemReader[T]) Read(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if r.pos >= len(r.items) {
		return zero, port.ErrNoMoreItems
	}
	item := r.items[r.pos]
	r.pos++
	return item, nil
}

// Update stores the number of items read so far.
func (r *ListItemReader[T]) Update(ctx context.Context, ec model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec.Put(r.readCountKey(), r.pos)
	return nil
}

// Close implements port.ItemStream.
func (r *ListItemReader[T]) Close(ctx context.Context) error {
	return nil
}

var (
	_ port.ItemReader[any] = (*ListItemReader[any])(nil)
	_ port.ItemStream      = (*ListItemReader[any])(nil)
)
