package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// ListItemWriter keeps every written chunk in memory.
//
// A chunk written with a synchronizing transaction becomes visible only after that
// transaction commits; a rolled back chunk is never recorded.
type ListItemWriter[T any] struct {
	mu     sync.Mutex
	chunks [][]T
}

// NewListItemWriter creates an empty writer.
func NewListItemWriter[T any]() *ListItemWriter[T] {
	return &ListItemWriter[T]{}
}

// Write records a copy of items.
func (w *ListItemWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	chunk := append(make([]T, 0, len(items)), items...)
	publish := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.chunks = append(w.chunks, chunk)
	}
	if t == nil {
		publish()
		return nil
	}
	tx.RegisterAfterCommit(t, publish)
	return nil
}

// Chunks returns the committed chunks in commit order.
func (w *ListItemWriter[T]) Chunks() [][]T {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]T, len(w.chunks))
	copy(out, w.chunks)
	return out
}

// Items returns all committed items, chunk by chunk.
func (w *ListItemWriter[T]) Items() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []T
	for _, c := range w.chunks {
		out = append(out, c...)
	}
	return out
}

var _ port.ItemWriter[any] = (*ListItemWriter[any])(nil)
