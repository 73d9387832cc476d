// Package repository defines the Job Repository contract: persistence of job and step
// execution records and of step execution contexts.
//
// Implementations honor a transaction carried in the context (see tx.FromContext), so the
// record updates of a chunk commit or roll back together with the chunk itself.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var (
	ErrJobExecutionNotFound   = errors.New("job execution not found")
	ErrStepExecutionNotFound  = errors.New("step execution not found")
	ErrCheckpointDataNotFound = errors.New("checkpoint data not found")
)

func init() {
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
	exception.RegisterErrorType("ErrCheckpointDataNotFound", ErrCheckpointDataNotFound)
}

// JobExecutionStore persists job execution records.
type JobExecutionStore interface {
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	// FindJobExecutionByID loads the record together with its StepExecutions.
	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)
}

// StepExecutionStore persists step execution records.
type StepExecutionStore interface {
	// CreateStepExecution allocates a StepExecution named stepName for jobExecution and persists it.
	CreateStepExecution(ctx context.Context, jobExecution *model.JobExecution, stepName string) (*model.StepExecution, error)
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	// UpdateStepExecution is an upsert keyed by the execution ID; repeated calls are idempotent.
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error
	UpdateExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error
	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)
	// FindStepExecutionsByJobExecutionID returns the StepExecutions of a JobExecution in creation order.
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}

// CheckpointStore keeps the latest ExecutionContext of each step execution.
type CheckpointStore interface {
	SaveCheckpointData(ctx context.Context, data *model.CheckpointData) error
	FindCheckpointData(ctx context.Context, stepExecutionID string) (*model.CheckpointData, error)
}

// JobRepository is the complete repository used by the launcher and the step engine.
type JobRepository interface {
	JobExecutionStore
	StepExecutionStore
	CheckpointStore

	// Close releases resources such as database connections.
	Close() error
}
