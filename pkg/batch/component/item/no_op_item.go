package item

import (
	"context"
	"io"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
)

// NoOpItemReader is an ItemReader over an empty source. Every Read returns io.EOF.
type NoOpItemReader[O any] struct{}

// NewNoOpItemReader creates a new NoOpItemReader.
func NewNoOpItemReader[O any]() *NoOpItemReader[O] {
	return &NoOpItemReader[O]{}
}

// Read always reports end of data.
func (r *NoOpItemReader[O]) Read(ctx context.Context) (O, error) {
	var zero O
	return zero, io.EOF
}

// NoOpItemWriter is an ItemWriter that discards its items.
type NoOpItemWriter[I any] struct{}

// NewNoOpItemWriter creates a new NoOpItemWriter.
func NewNoOpItemWriter[I any]() *NoOpItemWriter[I] {
	return &NoOpItemWriter[I]{}
}

// Write does nothing.
func (w *NoOpItemWriter[I]) Write(ctx context.Context, t tx.Tx, items []I) error {
	return nil
}

var (
	_ port.ItemReader[any] = (*NoOpItemReader[any])(nil)
	_ port.ItemWriter[any] = (*NoOpItemWriter[any])(nil)
)
