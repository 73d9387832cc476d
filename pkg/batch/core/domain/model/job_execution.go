package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// JobExecution represents a single execution of a job and owns its step executions.
type JobExecution struct {
	ID               string
	JobName          string
	StartTime        time.Time
	EndTime          *time.Time
	Status           BatchStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext

	mu sync.Mutex
}

// NewJobExecution creates a new JobExecution in STARTING status.
func NewJobExecution(jobName string) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobName:          jobName,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         make(FailureList, 0),
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: NewExecutionContext(),
	}
}

// CreateStepExecution allocates a new StepExecution in STARTING status and attaches it to the job.
func (je *JobExecution) CreateStepExecution(stepName string) *StepExecution {
	se := NewStepExecution(NewID(), je, stepName)
	je.AddStepExecution(se)
	return se
}

// AddStepExecution attaches se to the job.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	je.mu.Lock()
	defer je.mu.Unlock()
	se.JobExecution = je
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// StepExecutionsSnapshot returns a copy of the step execution slice.
func (je *JobExecution) StepExecutionsSnapshot() []*StepExecution {
	je.mu.Lock()
	defer je.mu.Unlock()
	return append([]*StepExecution(nil), je.StepExecutions...)
}

// Clone returns a detached copy of the JobExecution without its step executions.
func (je *JobExecution) Clone() *JobExecution {
	je.mu.Lock()
	defer je.mu.Unlock()
	c := &JobExecution{
		ID:               je.ID,
		JobName:          je.JobName,
		StartTime:        je.StartTime,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		Failures:         append(FailureList(nil), je.Failures...),
		Version:          je.Version,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: je.ExecutionContext.Copy(),
	}
	if je.EndTime != nil {
		end := *je.EndTime
		c.EndTime = &end
	}
	return c
}

func isValidJobTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStarted:
		return next == BatchStatusStopping || next == BatchStatusStopped || next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusAbandoned
	case BatchStatusStopping:
		return next == BatchStatusStopped || next == BatchStatusFailed || next == BatchStatusAbandoned
	case BatchStatusFailed:
		return next == BatchStatusAbandoned
	default:
		return false
	}
}

// TransitionTo safely transitions the status of JobExecution.
func (je *JobExecution) TransitionTo(newStatus BatchStatus) error {
	if !isValidJobTransition(je.Status, newStatus) {
		return fmt.Errorf("JobExecution (ID: %s): Invalid state transition: %s -> %s", je.ID, je.Status, newStatus)
	}
	je.Status = newStatus
	return nil
}

func (je *JobExecution) mark(next BatchStatus, exit ExitStatus, end bool) {
	if err := je.TransitionTo(next); err != nil {
		logger.Warnf("Could not update JobExecution (ID: %s) status to %s: %v", je.ID, next, err)
		je.Status = next
	}
	now := time.Now()
	if exit != "" {
		je.ExitStatus = exit
	}
	if end {
		je.EndTime = &now
	}
	je.LastUpdated = now
}

// MarkAsStarted updates the JobExecution status to STARTED.
func (je *JobExecution) MarkAsStarted() {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.mark(BatchStatusStarted, ExitStatusExecuting, false)
}

// MarkAsCompleted updates the JobExecution status to COMPLETED.
func (je *JobExecution) MarkAsCompleted() {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.mark(BatchStatusCompleted, ExitStatusCompleted, true)
}

// MarkAsFailed updates the JobExecution status to FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.mark(BatchStatusFailed, ExitStatusFailed, true)
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)
	for _, existing := range je.Failures {
		if existing == errMsg {
			return
		}
	}
	je.Failures = append(je.Failures, errMsg)
}

// MarkAsStopped updates the JobExecution status to STOPPED.
func (je *JobExecution) MarkAsStopped() {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.mark(BatchStatusStopped, ExitStatusStopped, true)
}

// MarkAsStopping records a stop request. The job becomes STOPPED when it finishes.
func (je *JobExecution) MarkAsStopping() {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.mark(BatchStatusStopping, "", false)
}

// CurrentStatus returns the status under the record's lock.
func (je *JobExecution) CurrentStatus() BatchStatus {
	je.mu.Lock()
	defer je.mu.Unlock()
	return je.Status
}

// Finish derives the job status from its step executions: FAILED if any failed,
// STOPPED if any stopped or a stop was requested, COMPLETED otherwise.
func (je *JobExecution) Finish() {
	var failure error
	stopped := je.CurrentStatus() == BatchStatusStopping
	for _, se := range je.StepExecutionsSnapshot() {
		switch se.CurrentStatus() {
		case BatchStatusFailed:
			if failure == nil {
				failure = fmt.Errorf("step '%s' failed", se.StepName)
			}
		case BatchStatusStopped:
			stopped = true
		}
	}
	switch {
	case failure != nil:
		je.MarkAsFailed(failure)
	case stopped:
		je.MarkAsStopped()
	default:
		je.MarkAsCompleted()
	}
}
