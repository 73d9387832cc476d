package model

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StepExecution is the execution record of one step run.
//
// Counter fields are exported for persistence and reporting. While the step is running they
// must only be mutated through Apply, IncrementRollbackCount and Restore, which share a
// single mutex, and read concurrently through Counters.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecution     *JobExecution
	JobExecutionID   string
	StartTime        time.Time
	EndTime          *time.Time
	Status           BatchStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int

	mu            sync.Mutex
	stopRequested atomic.Bool
}

// StepCounters is a consistent view of the StepExecution counters.
type StepCounters struct {
	ReadCount     int
	WriteCount    int
	CommitCount   int
	RollbackCount int
}

// StepExecutionSnapshot captures the mutable state of a StepExecution before a chunk,
// so that a rolled back chunk leaves no trace other than the rollback count.
type StepExecutionSnapshot struct {
	counters         StepCounters
	status           BatchStatus
	exitStatus       ExitStatus
	executionContext ExecutionContext
	lastUpdated      time.Time
	version          int
}

// NewStepExecution creates a new StepExecution in STARTING status.
func NewStepExecution(id string, jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               id,
		StepName:         stepName,
		JobExecution:     jobExecution,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         make(FailureList, 0),
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
	if jobExecution != nil {
		se.JobExecutionID = jobExecution.ID
	}
	return se
}

// Apply adds a committed chunk's contribution to the record: read and write counts are
// accumulated, the commit count is incremented and the status moves to STARTED if the
// step has not started yet.
func (se *StepExecution) Apply(c *StepContribution) {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.ReadCount += c.ReadCount()
	se.WriteCount += c.WriteCount()
	se.CommitCount++
	if se.Status == BatchStatusStarting {
		se.Status = BatchStatusStarted
	}
	se.LastUpdated = time.Now()
}

// IncrementRollbackCount records one rolled back chunk.
func (se *StepExecution) IncrementRollbackCount() {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.RollbackCount++
	se.LastUpdated = time.Now()
}

// Counters returns the current counters under the record's lock.
func (se *StepExecution) Counters() StepCounters {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.countersLocked()
}

func (se *StepExecution) countersLocked() StepCounters {
	return StepCounters{
		ReadCount:     se.ReadCount,
		WriteCount:    se.WriteCount,
		CommitCount:   se.CommitCount,
		RollbackCount: se.RollbackCount,
	}
}

// Snapshot copies the state a chunk may change.
func (se *StepExecution) Snapshot() *StepExecutionSnapshot {
	se.mu.Lock()
	defer se.mu.Unlock()
	return &StepExecutionSnapshot{
		counters:         se.countersLocked(),
		status:           se.Status,
		exitStatus:       se.ExitStatus,
		executionContext: se.ExecutionContext.Copy(),
		lastUpdated:      se.LastUpdated,
		version:          se.Version,
	}
}

// Restore reverts the record to snap. The rollback count is kept as is, since it only grows.
func (se *StepExecution) Restore(snap *StepExecutionSnapshot) {
	if snap == nil {
		return
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	se.ReadCount = snap.counters.ReadCount
	se.WriteCount = snap.counters.WriteCount
	se.CommitCount = snap.counters.CommitCount
	se.Status = snap.status
	se.ExitStatus = snap.exitStatus
	se.ExecutionContext = snap.executionContext.Copy()
	se.LastUpdated = snap.lastUpdated
	se.Version = snap.version
}

// Touch increments the version and refreshes LastUpdated. Repositories call it on each save.
func (se *StepExecution) Touch() int {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.Version++
	se.LastUpdated = time.Now()
	return se.Version
}

// Clone returns a detached copy of the record. The JobExecution back-reference is shared.
func (se *StepExecution) Clone() *StepExecution {
	se.mu.Lock()
	defer se.mu.Unlock()
	c := &StepExecution{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecution:     se.JobExecution,
		JobExecutionID:   se.JobExecutionID,
		StartTime:        se.StartTime,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		Failures:         append(FailureList(nil), se.Failures...),
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		ExecutionContext: se.ExecutionContext.Copy(),
		LastUpdated:      se.LastUpdated,
		Version:          se.Version,
	}
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	c.stopRequested.Store(se.stopRequested.Load())
	return c
}

// RequestStop asks the running step to stop at the next chunk boundary.
func (se *StepExecution) RequestStop() {
	se.stopRequested.Store(true)
}

// IsStopRequested reports whether RequestStop has been called.
func (se *StepExecution) IsStopRequested() bool {
	return se.stopRequested.Load()
}

// DebugString returns a debug representation of the StepExecution without ExecutionContext values.
func (se *StepExecution) DebugString() string {
	se.mu.Lock()
	defer se.mu.Unlock()
	endTimeStr := "nil"
	if se.EndTime != nil {
		endTimeStr = se.EndTime.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf(
		"&{ID:%s StepName:%s JobExecutionID:%s Status:%s ExitStatus:%s EndTime:%s ReadCount:%d WriteCount:%d CommitCount:%d RollbackCount:%d Failures:%v ExecutionContext:(size %d) Version:%d}",
		se.ID, se.StepName, se.JobExecutionID, se.Status, se.ExitStatus, endTimeStr,
		se.ReadCount, se.WriteCount, se.CommitCount, se.RollbackCount, se.Failures,
		len(se.ExecutionContext), se.Version,
	)
}

func isValidStepTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStarted:
		return next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	default:
		return false
	}
}

// TransitionTo transitions the status, rejecting moves out of a terminal state.
func (se *StepExecution) TransitionTo(newStatus BatchStatus) error {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.transitionLocked(newStatus)
}

func (se *StepExecution) transitionLocked(newStatus BatchStatus) error {
	if !isValidStepTransition(se.Status, newStatus) {
		return fmt.Errorf("StepExecution (ID: %s): Invalid state transition: %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	return nil
}

// mark forces the status to next, warning when the move is not a regular transition.
func (se *StepExecution) mark(next BatchStatus, exit ExitStatus, end bool) {
	if err := se.transitionLocked(next); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to %s: %v", se.ID, next, err)
		se.Status = next
	}
	now := time.Now()
	if exit != "" {
		se.ExitStatus = exit
	}
	if end {
		se.EndTime = &now
	}
	se.LastUpdated = now
}

// MarkAsStarted updates the StepExecution status to STARTED.
func (se *StepExecution) MarkAsStarted() {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.Status == BatchStatusStarted {
		return
	}
	se.mark(BatchStatusStarted, ExitStatusExecuting, false)
}

// MarkAsCompleted updates the StepExecution status to COMPLETED.
func (se *StepExecution) MarkAsCompleted() {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.mark(BatchStatusCompleted, ExitStatusCompleted, true)
}

// MarkAsFailed updates the StepExecution status to FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.mark(BatchStatusFailed, ExitStatusFailed, true)
	se.addFailureLocked(err)
}

// MarkAsStopped updates the StepExecution status to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.mark(BatchStatusStopped, ExitStatusStopped, true)
}

// AddFailureException records err in the failure list, skipping duplicates.
func (se *StepExecution) AddFailureException(err error) {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.addFailureLocked(err)
}

func (se *StepExecution) addFailureLocked(err error) {
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)
	for _, existing := range se.Failures {
		if existing == errMsg {
			logger.Debugf("Skipped adding duplicate error '%s' to StepExecution (ID: %s).", errMsg, se.ID)
			return
		}
	}
	se.Failures = append(se.Failures, errMsg)
	se.LastUpdated = time.Now()
}

// CurrentStatus returns the status under the record's lock.
func (se *StepExecution) CurrentStatus() BatchStatus {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.Status
}
