package usecase

import (
	"context"
	"fmt"

	jobRepository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultJobOperator is the default implementation of the JobOperator interface.
// It can only stop executions launched by the SimpleJobLauncher of the same process.
type DefaultJobOperator struct {
	jobRepository jobRepository.JobRepository
	jobLauncher   *SimpleJobLauncher
}

// Verify that DefaultJobOperator implements the JobOperator interface.
var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a new instance of DefaultJobOperator.
func NewDefaultJobOperator(jobRepository jobRepository.JobRepository, launcher *SimpleJobLauncher) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: jobRepository,
		jobLauncher:   launcher,
	}
}

// Stop marks the JobExecution STOPPING and asks its running steps to stop at the next chunk boundary.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Stop method called. Execution ID: %s", executionID)

	jobExecution, ok := o.jobLauncher.lookup(executionID)
	if !ok {
		stored, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
		if err != nil {
			return exception.NewBatchError("job_operator", fmt.Sprintf("stop processing error: failed to load JobExecution (ID: %s)", executionID), err, false, false)
		}
		return exception.NewBatchErrorf("job_operator", "stop processing error: JobExecution (ID: %s, Status: %s) is not running in this process", executionID, stored.Status)
	}

	if status := jobExecution.CurrentStatus(); status.IsFinished() {
		return exception.NewBatchErrorf("job_operator", "stop processing error: JobExecution (ID: %s) is already in a finished state (%s)", executionID, status)
	}

	jobExecution.MarkAsStopping()
	if err := o.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("stop processing error: failed to update JobExecution (ID: %s) status", executionID), err, false, false)
	}
	logger.Infof("Updated JobExecution (ID: %s) status to STOPPING.", executionID)

	for _, se := range jobExecution.StepExecutionsSnapshot() {
		if !se.CurrentStatus().IsFinished() {
			se.RequestStop()
			logger.Debugf("Stop requested for StepExecution '%s' (ID: %s).", se.StepName, se.ID)
		}
	}
	return nil
}

// RunningExecutions returns the IDs of the executions currently running in this process.
func (o *DefaultJobOperator) RunningExecutions() []string {
	return o.jobLauncher.runningIDs()
}
