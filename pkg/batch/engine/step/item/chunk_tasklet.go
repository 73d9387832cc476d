// Package item provides the chunk-oriented tasklet: an item reader, an item writer and a
// chunk-level repeat template composed into "read one chunk, write it once".
package item

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/repeat"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

type options struct {
	writeEmptyChunks bool
}

// Option configures a ChunkOrientedTasklet.
type Option func(*options)

// WithWriteEmptyChunks makes the tasklet call the writer even when a chunk read no items.
// By default the write of an empty chunk is skipped.
func WithWriteEmptyChunks(enabled bool) Option {
	return func(o *options) {
		o.writeEmptyChunks = enabled
	}
}

// ChunkOrientedTasklet processes exactly one chunk per Execute call.
//
// Concurrent Execute calls are allowed. The read phase of a chunk holds the tasklet's
// read lock, so every chunk claims a contiguous run of items and no item is read twice.
// Writes of different chunks run in parallel.
type ChunkOrientedTasklet[T any] struct {
	name             string
	reader           port.ItemReader[T]
	writer           port.ItemWriter[T]
	chunkOperations  *repeat.RepeatTemplate
	writeEmptyChunks bool

	readMu sync.Mutex
}

// NewChunkOrientedTasklet creates a tasklet whose chunks are bounded by policy.
// It returns a ConfigurationError when any collaborator is missing.
func NewChunkOrientedTasklet[T any](
	name string,
	reader port.ItemReader[T],
	writer port.ItemWriter[T],
	policy *repeat.CompletionPolicy,
	opts ...Option,
) (*ChunkOrientedTasklet[T], error) {
	if reader == nil {
		return nil, exception.NewConfigurationError(name, "item reader is required", nil)
	}
	if writer == nil {
		return nil, exception.NewConfigurationError(name, "item writer is required", nil)
	}
	if policy == nil {
		return nil, exception.NewConfigurationError(name, "chunk completion policy is required", nil)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return &ChunkOrientedTasklet[T]{
		name:             name,
		reader:           reader,
		writer:           writer,
		chunkOperations:  repeat.NewRepeatTemplate(policy),
		writeEmptyChunks: o.writeEmptyChunks,
	}, nil
}

// Name returns the name used in logs and errors.
func (t *ChunkOrientedTasklet[T]) Name() string { return t.name }

// Execute reads one chunk and writes it with the transaction carried by ctx.
// It returns RepeatStatusFinished once the reader is exhausted.
func (t *ChunkOrientedTasklet[T]) Execute(ctx context.Context, contribution *model.StepContribution) (model.RepeatStatus, error) {
	items, exhausted, err := t.readChunk(ctx, contribution)
	if err != nil {
		return model.RepeatStatusFinished, err
	}
	status := model.RepeatStatusContinuable.And(!exhausted)

	if len(items) == 0 && !t.writeEmptyChunks {
		logger.Debugf("ChunkOrientedTasklet '%s': empty chunk, write skipped.", t.name)
		return status, nil
	}

	currentTx, _ := tx.FromContext(ctx)
	if err := t.writer.Write(ctx, currentTx, items); err != nil {
		return model.RepeatStatusFinished, exception.NewWriteError(t.name, len(items), err)
	}
	contribution.IncrementWriteCount(len(items))

	logger.Debugf("ChunkOrientedTasklet '%s': wrote chunk of %d items (exhausted: %t).", t.name, len(items), exhausted)
	return status, nil
}

// readChunk fills one chunk under the read lock. The chunk loop runs detached from
// cancellation, so a chunk is never cut short once started.
func (t *ChunkOrientedTasklet[T]) readChunk(ctx context.Context, contribution *model.StepContribution) ([]T, bool, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	var items []T
	exhausted := false

	_, err := t.chunkOperations.Iterate(context.WithoutCancel(ctx), func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		item, err := t.reader.Read(ctx)
		if err != nil {
			if port.IsEndOfData(err) {
				exhausted = true
				return model.RepeatStatusFinished, nil
			}
			return model.RepeatStatusFinished, exception.NewReadError(t.name, len(items), err)
		}
		items = append(items, item)
		contribution.IncrementReadCount()
		return model.RepeatStatusContinuable, nil
	})
	if err != nil {
		return nil, false, err
	}
	return items, exhausted, nil
}

// Streams returns the reader and writer when they implement port.ItemStream.
func (t *ChunkOrientedTasklet[T]) Streams() []port.ItemStream {
	var streams []port.ItemStream
	if s, ok := t.reader.(port.ItemStream); ok {
		streams = append(streams, s)
	}
	if s, ok := t.writer.(port.ItemStream); ok {
		streams = append(streams, s)
	}
	return streams
}

var _ port.Tasklet = (*ChunkOrientedTasklet[any])(nil)
