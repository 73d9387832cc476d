package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

const explorerModule = "job_explorer"

// SimpleJobExplorer reads execution records straight from the JobRepository.
// Not-found errors of the repository stay matchable with errors.Is.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository}
}

func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	return je, lookupError("JobExecution", executionID, err)
}

func (e *SimpleJobExplorer) GetStepExecution(ctx context.Context, stepExecutionID string) (*model.StepExecution, error) {
	se, err := e.jobRepository.FindStepExecutionByID(ctx, stepExecutionID)
	return se, lookupError("StepExecution", stepExecutionID, err)
}

func (e *SimpleJobExplorer) GetStepExecutions(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	steps, err := e.jobRepository.FindStepExecutionsByJobExecutionID(ctx, jobExecutionID)
	return steps, lookupError("StepExecutions of JobExecution", jobExecutionID, err)
}

func lookupError(what, id string, err error) error {
	if err == nil {
		return nil
	}
	return exception.NewBatchError(explorerModule, fmt.Sprintf("failed to retrieve %s (ID: %s)", what, id), err, false, false)
}
