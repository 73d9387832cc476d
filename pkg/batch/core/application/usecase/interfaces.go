// Package usecase provides the job level entry points over the step engine: a launcher that
// runs an ordered list of steps as one job execution, an explorer over the stored records
// and an operator that stops running executions.
package usecase

import (
	"context"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// JobLauncher runs steps as one JobExecution.
type JobLauncher interface {
	// Launch runs steps in order and returns the finished JobExecution.
	// The returned error reports a failure of the launch itself (for example, the record could
	// not be saved). A failed step is reported through the execution status.
	Launch(ctx context.Context, jobName string, steps ...port.Step) (*model.JobExecution, error)
}

// JobExplorer queries stored execution records.
type JobExplorer interface {
	// GetJobExecution retrieves a JobExecution with its StepExecutions by ID.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// GetStepExecution retrieves a StepExecution by ID.
	GetStepExecution(ctx context.Context, stepExecutionID string) (*model.StepExecution, error)

	// GetStepExecutions retrieves the StepExecutions of a JobExecution in creation order.
	GetStepExecutions(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}

// JobOperator controls running executions.
type JobOperator interface {
	// Stop asks the running JobExecution to stop at the next chunk boundary.
	// Stopping happens asynchronously; Launch returns once the steps observed the request.
	Stop(ctx context.Context, executionID string) error

	// RunningExecutions returns the IDs of the JobExecutions currently running in this process.
	RunningExecutions() []string
}
