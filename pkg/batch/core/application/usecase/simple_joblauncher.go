package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SimpleJobLauncher implements JobLauncher for local, in-process execution.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	listeners     []port.JobExecutionListener
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer

	mu sync.Mutex
	// running holds the executions started by this launcher that have not finished yet.
	running map[string]*model.JobExecution
}

// LauncherParams defines the dependencies of SimpleJobLauncher.
type LauncherParams struct {
	fx.In
	JobRepository repository.JobRepository
	Listeners     []port.JobExecutionListener `group:"jobListeners"`
	Recorder      metrics.MetricRecorder      `optional:"true"`
	Tracer        metrics.Tracer              `optional:"true"`
}

// NewSimpleJobLauncher creates a new SimpleJobLauncher. A nil recorder or tracer is replaced by a no-op.
func NewSimpleJobLauncher(p LauncherParams) *SimpleJobLauncher {
	l := &SimpleJobLauncher{
		jobRepository: p.JobRepository,
		listeners:     p.Listeners,
		recorder:      p.Recorder,
		tracer:        p.Tracer,
		running:       make(map[string]*model.JobExecution),
	}
	if l.recorder == nil {
		l.recorder = metrics.NewNoOpMetricRecorder()
	}
	if l.tracer == nil {
		l.tracer = metrics.NewNoOpTracer()
	}
	return l
}

// Launch launches a job execution and runs steps in order until one does not complete.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, steps ...port.Step) (*model.JobExecution, error) {
	const op = "job_launcher"
	if len(steps) == 0 {
		return nil, exception.NewConfigurationError(op, fmt.Sprintf("job '%s' has no steps", jobName), nil)
	}
	logger.Infof("Launching Job '%s' with %d step(s).", jobName, len(steps))

	jobExecution := model.NewJobExecution(jobName)
	if err := l.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to save JobExecution for '%s'", jobName), err, false, false)
	}
	l.register(jobExecution)
	defer l.unregister(jobExecution.ID)

	ctx, endSpan := l.tracer.StartJobSpan(ctx, jobExecution)
	defer endSpan()
	start := time.Now()

	jobExecution.MarkAsStarted()
	if err := l.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return jobExecution, exception.NewBatchError(op, fmt.Sprintf("failed to update JobExecution (ID: %s) status to STARTED", jobExecution.ID), err, false, false)
	}
	l.recorder.RecordJobStart(ctx, jobExecution)
	for _, listener := range l.listeners {
		listener.BeforeJob(ctx, jobExecution)
	}

	launchErr := l.runSteps(ctx, jobExecution, steps)
	if launchErr != nil {
		jobExecution.MarkAsFailed(launchErr)
	} else {
		jobExecution.Finish()
	}

	saveCtx := context.WithoutCancel(ctx)
	if err := l.jobRepository.UpdateJobExecution(saveCtx, jobExecution); err != nil {
		logger.Errorf("Failed to update final state of JobExecution (ID: %s): %v", jobExecution.ID, err)
		if launchErr == nil {
			launchErr = exception.NewBatchError(op, "failed to update final JobExecution state", err, false, false)
		}
	}

	l.recorder.RecordJobEnd(saveCtx, jobExecution)
	l.recorder.RecordDuration(saveCtx, "job.execution", time.Since(start), map[string]string{
		"status": jobExecution.CurrentStatus().String(),
	})
	for _, listener := range l.listeners {
		listener.AfterJob(saveCtx, jobExecution)
	}

	snap := jobExecution.Clone()
	logger.Infof("Job '%s' (ID: %s) finished. Status: %s", jobName, snap.ID, snap.Status)
	return jobExecution, launchErr
}

// runSteps returns an error only when a step could not be started at all.
func (l *SimpleJobLauncher) runSteps(ctx context.Context, jobExecution *model.JobExecution, steps []port.Step) error {
	for _, step := range steps {
		if ctx.Err() != nil || l.isStopping(jobExecution) {
			logger.Infof("Job '%s': stop requested before step '%s'.", jobExecution.JobName, step.StepName())
			return nil
		}
		stepExecution, err := l.jobRepository.CreateStepExecution(ctx, jobExecution, step.StepName())
		if err != nil {
			return exception.NewBatchError("job_launcher", fmt.Sprintf("failed to create StepExecution '%s'", step.StepName()), err, false, false)
		}
		if l.isStopping(jobExecution) {
			stepExecution.RequestStop()
		}
		if err := step.Execute(ctx, stepExecution); err != nil {
			logger.Warnf("Job '%s': step '%s' ended with error: %v", jobExecution.JobName, step.StepName(), err)
		}
		if stepExecution.CurrentStatus() != model.BatchStatusCompleted {
			return nil
		}
	}
	return nil
}

func (l *SimpleJobLauncher) register(je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running[je.ID] = je
}

func (l *SimpleJobLauncher) unregister(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, executionID)
}

func (l *SimpleJobLauncher) isStopping(je *model.JobExecution) bool {
	return je.CurrentStatus() == model.BatchStatusStopping
}

// lookup returns the execution with executionID if it is running in this process.
func (l *SimpleJobLauncher) lookup(executionID string) (*model.JobExecution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	je, ok := l.running[executionID]
	return je, ok
}

func (l *SimpleJobLauncher) runningIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.running))
	for id := range l.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)
