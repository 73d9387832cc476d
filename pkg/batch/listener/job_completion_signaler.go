// Package listener aggregates the listener modules of the framework.
package listener

import (
	"context"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// JobCompletionSignaler is a JobExecutionListener that closes a channel
// when a job completes, signaling its completion to external components.
type JobCompletionSignaler struct {
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	last *model.JobExecution
}

// NewJobCompletionSignaler creates a new instance of JobCompletionSignaler.
func NewJobCompletionSignaler() *JobCompletionSignaler {
	return &JobCompletionSignaler{done: make(chan struct{})}
}

// Done is closed after the first job execution finished.
func (l *JobCompletionSignaler) Done() <-chan struct{} {
	return l.done
}

// Last returns a snapshot of the most recently finished job execution, or nil.
func (l *JobCompletionSignaler) Last() *model.JobExecution {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// BeforeJob does nothing.
func (l *JobCompletionSignaler) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

// AfterJob records the execution and closes the Done channel once.
func (l *JobCompletionSignaler) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	snap := jobExecution.Clone()
	l.mu.Lock()
	l.last = snap
	l.mu.Unlock()
	l.once.Do(func() {
		logger.Debugf("JobCompletionSignaler: Job '%s' (ID: %s) completed. Closing done channel.", snap.JobName, snap.ID)
		close(l.done)
	})
}

// Verify that JobCompletionSignaler implements the port.JobExecutionListener interface.
var _ port.JobExecutionListener = (*JobCompletionSignaler)(nil)
