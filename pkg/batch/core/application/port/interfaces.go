// Package port defines the interfaces (ports) between the chunk step engine and its collaborators:
// item sources and sinks, stream participants, tasklets, steps and listeners.
package port

import (
	"context"
	"errors"
	"io"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// ErrNoMoreItems is returned by an ItemReader once the source is exhausted. It is not a failure.
var ErrNoMoreItems = errors.New("no more items to read")

func init() {
	exception.RegisterErrorType("ErrNoMoreItems", ErrNoMoreItems)
}

// ItemReader produces a lazy, finite sequence of items.
// O is the type of item to be read.
type ItemReader[O any] interface {
	// Read reads the next item.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//
	// Returns:
	//   O: The next item.
	//   error: ErrNoMoreItems (or io.EOF) at end of data, or another error if reading fails.
	//          Calling Read again after end of data returns end of data again.
	Read(ctx context.Context) (O, error)
}

// ItemWriter consumes a chunk of items inside the chunk transaction.
// I is the type of item to be written.
type ItemWriter[I any] interface {
	// Write persists a list of items.
	//
	// Parameters:
	//   ctx: The context for the operation, carrying the chunk transaction.
	//   tx: The current transaction.
	//   items: The list of items to be written.
	//
	// Returns:
	//   error: An error if writing fails. The enclosing transaction is then rolled back.
	Write(ctx context.Context, tx tx.Tx, items []I) error
}

// StreamParticipant contributes restart state to the step's ExecutionContext.
// Update is invoked once per successful chunk commit, before the commit, and once more at step finalization.
type StreamParticipant interface {
	Update(ctx context.Context, ec model.ExecutionContext) error
}

// ItemStream is a StreamParticipant with an explicit lifecycle.
type ItemStream interface {
	StreamParticipant
	// Open acquires resources and restores position from ec.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Close releases resources.
	Close(ctx context.Context) error
}

// Tasklet is the unit of work invoked once per iteration of the step loop.
type Tasklet interface {
	// Execute performs one unit of work and records its counter deltas in contribution.
	// It returns RepeatStatusFinished when there is no more work.
	Execute(ctx context.Context, contribution *model.StepContribution) (model.RepeatStatus, error)
}

// Step is a single step executed within a job.
type Step interface {
	// Execute runs the step to a terminal status, updating stepExecution along the way.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   stepExecution: The execution record to drive.
	//
	// Returns:
	//   error: The failure that moved the step to FAILED, if any.
	Execute(ctx context.Context, stepExecution *model.StepExecution) error
	// StepName returns the logical name of the step.
	StepName() string
	// ID returns the unique ID of the step definition.
	ID() string
}

// JobExecutionListener is notified around a job execution.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	// AfterJob is called once the job reached a terminal status and was saved.
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// StepExecutionListener is an interface for handling step execution events.
type StepExecutionListener interface {
	// BeforeStep is called just before a step execution starts.
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	// AfterStep is called after a step execution completes (regardless of success or failure).
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener is an interface for handling chunk events.
type ChunkListener interface {
	// BeforeChunk is called after the chunk transaction has begun.
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunk is called after the chunk transaction committed.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunkError is called after the chunk transaction rolled back.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

type contextKey string

// StepExecutionKey is the context key under which the running StepExecution is stored.
const StepExecutionKey contextKey = "stepExecution"

// GetContextWithStepExecution stores a StepExecution in the Context.
func GetContextWithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, StepExecutionKey, se)
}

// GetStepExecutionFromContext retrieves a StepExecution from the Context. Returns nil if not found.
func GetStepExecutionFromContext(ctx context.Context) *model.StepExecution {
	if se, ok := ctx.Value(StepExecutionKey).(*model.StepExecution); ok {
		return se
	}
	return nil
}

// IsEndOfData reports whether err signals end of data from an ItemReader.
// ErrNoMoreItems and io.EOF are both accepted.
func IsEndOfData(err error) bool {
	return errors.Is(err, ErrNoMoreItems) || errors.Is(err, io.EOF)
}
