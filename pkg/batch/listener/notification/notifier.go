// Package notification reports finished job executions through a Notifier.
package notification

import (
	"context"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Notifier delivers a job completion report.
type Notifier interface {
	NotifyJobCompletion(ctx context.Context, execution *model.JobExecution)
}

// LogNotifier writes the completion report to the framework logger.
type LogNotifier struct{}

// NewLogNotifier creates a new instance of LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// NotifyJobCompletion logs a one line summary: INFO when the job completed, WARN otherwise.
func (n *LogNotifier) NotifyJobCompletion(ctx context.Context, execution *model.JobExecution) {
	snap := execution.Clone()
	message := Summary(snap, execution.StepExecutionsSnapshot())
	if snap.Status == model.BatchStatusCompleted {
		logger.Infof("%s", message)
	} else {
		logger.Warnf("%s", message)
	}
}

// Summary renders the completion report of a job execution.
func Summary(snap *model.JobExecution, steps []*model.StepExecution) string {
	duration := time.Duration(0)
	if snap.EndTime != nil {
		duration = snap.EndTime.Sub(snap.StartTime)
	}
	read, written := 0, 0
	for _, se := range steps {
		c := se.Counters()
		read += c.ReadCount
		written += c.WriteCount
	}
	return fmt.Sprintf(
		"Job Notification: Job '%s' (ID: %s) finished with Status: %s, ExitStatus: %s. Duration: %s, Steps: %d, Read: %d, Written: %d, Failures: %d",
		snap.JobName, snap.ID, snap.Status, snap.ExitStatus, duration, len(steps), read, written, len(snap.Failures),
	)
}

// NotificationListener is a JobExecutionListener that sends the completion report after the job.
type NotificationListener struct {
	notifier Notifier
}

// NewNotificationListener creates a new instance of NotificationListener.
func NewNotificationListener(notifier Notifier) *NotificationListener {
	return &NotificationListener{notifier: notifier}
}

// BeforeJob does nothing.
func (l *NotificationListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {}

// AfterJob sends the completion report.
func (l *NotificationListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	l.notifier.NotifyJobCompletion(ctx, jobExecution)
}

var _ port.JobExecutionListener = (*NotificationListener)(nil)
