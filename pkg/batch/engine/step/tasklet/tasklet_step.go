// Package tasklet provides TaskletStep, the step engine that drives a tasklet chunk by chunk,
// wrapping every invocation in a transaction boundary.
package tasklet

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/repeat"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// TaskletStep is an implementation of port.Step that invokes a Tasklet once per chunk.
//
// Each invocation runs inside its own transaction. On success the chunk's contribution,
// the stream participants' state and the execution record are saved and committed together.
// On failure the transaction rolls back and the record returns to its pre-chunk state, except
// for the rollback count.
type TaskletStep struct {
	id                     string
	name                   string
	tasklet                port.Tasklet
	jobRepository          repository.JobRepository
	txManager              tx.TransactionManager
	stepOperations         repeat.RepeatOperations
	streams                []port.StreamParticipant
	stepExecutionListeners []port.StepExecutionListener
	chunkListeners         []port.ChunkListener
	isolationLevel         sql.IsolationLevel
	metricRecorder         metrics.MetricRecorder
	tracer                 metrics.Tracer

	// commitMu serializes the commit critical section of concurrent chunks.
	commitMu      sync.Mutex
	running       atomic.Pointer[model.StepExecution]
	stopRequested atomic.Bool
}

// Option configures a TaskletStep.
type Option func(*TaskletStep)

// WithID sets the step definition ID. It defaults to the step name.
func WithID(id string) Option {
	return func(s *TaskletStep) { s.id = id }
}

// WithStepOperations sets the step-level repeat operations.
// The default is a synchronous RepeatTemplate with the unbounded policy.
func WithStepOperations(ops repeat.RepeatOperations) Option {
	return func(s *TaskletStep) { s.stepOperations = ops }
}

// WithStreams registers stream participants. They are updated in registration order.
func WithStreams(streams ...port.StreamParticipant) Option {
	return func(s *TaskletStep) { s.streams = append(s.streams, streams...) }
}

// WithStepExecutionListeners registers step listeners.
func WithStepExecutionListeners(listeners ...port.StepExecutionListener) Option {
	return func(s *TaskletStep) { s.stepExecutionListeners = append(s.stepExecutionListeners, listeners...) }
}

// WithChunkListeners registers chunk listeners.
func WithChunkListeners(listeners ...port.ChunkListener) Option {
	return func(s *TaskletStep) { s.chunkListeners = append(s.chunkListeners, listeners...) }
}

// WithIsolationLevel sets the chunk transaction isolation level by name, e.g. "READ_COMMITTED".
func WithIsolationLevel(level string) Option {
	return func(s *TaskletStep) { s.isolationLevel = parseIsolationLevel(level) }
}

// WithMetricRecorder sets the metric recorder.
func WithMetricRecorder(recorder metrics.MetricRecorder) Option {
	return func(s *TaskletStep) {
		if recorder != nil {
			s.metricRecorder = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer metrics.Tracer) Option {
	return func(s *TaskletStep) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewTaskletStep creates a new TaskletStep instance.
func NewTaskletStep(
	name string,
	tasklet port.Tasklet,
	jobRepository repository.JobRepository,
	txManager tx.TransactionManager,
	opts ...Option,
) (*TaskletStep, error) {
	if tasklet == nil {
		return nil, exception.NewConfigurationError(name, "tasklet is required", nil)
	}
	if jobRepository == nil {
		return nil, exception.NewConfigurationError(name, "job repository is required", nil)
	}
	if txManager == nil {
		return nil, exception.NewConfigurationError(name, "transaction manager is required", nil)
	}

	s := &TaskletStep{
		id:             name,
		name:           name,
		tasklet:        tasklet,
		jobRepository:  jobRepository,
		txManager:      txManager,
		stepOperations: repeat.NewRepeatTemplate(nil),
		isolationLevel: sql.LevelDefault,
		metricRecorder: metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stepOperations == nil {
		return nil, exception.NewConfigurationError(name, "step repeat operations must not be nil", nil)
	}
	return s, nil
}

// parseIsolationLevel converts an isolation level name to sql.IsolationLevel.
func parseIsolationLevel(level string) sql.IsolationLevel {
	switch level {
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "WRITE_COMMITTED":
		return sql.LevelWriteCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SERIALIZABLE":
		return sql.LevelSerializable
	default:
		// Default depends on the database
		return sql.LevelDefault
	}
}

// ID returns the step ID.
func (s *TaskletStep) ID() string {
	return s.id
}

// StepName returns the step name.
func (s *TaskletStep) StepName() string {
	return s.name
}

// GetTransactionOptions returns the options used to begin each chunk transaction.
func (s *TaskletStep) GetTransactionOptions() *sql.TxOptions {
	return &sql.TxOptions{
		Isolation: s.isolationLevel,
		ReadOnly:  false,
	}
}

// Stop asks the running execution to stop at the next chunk boundary.
// A chunk that is already committing is never interrupted.
func (s *TaskletStep) Stop() {
	s.stopRequested.Store(true)
	if se := s.running.Load(); se != nil {
		se.RequestStop()
	}
	logger.Infof("TaskletStep '%s': stop requested.", s.name)
}

func (s *TaskletStep) isStopRequested(se *model.StepExecution) bool {
	return s.stopRequested.Load() || se.IsStopRequested()
}

// Execute runs the step to COMPLETED, FAILED or STOPPED.
func (s *TaskletStep) Execute(ctx context.Context, stepExecution *model.StepExecution) error {
	if stepExecution == nil {
		return exception.NewConfigurationError(s.name, "step execution is required", nil)
	}
	logger.Infof("TaskletStep '%s' executing.", s.name)
	start := time.Now()

	s.running.Store(stepExecution)
	defer func() {
		s.running.Store(nil)
		s.stopRequested.Store(false)
	}()

	ctx = port.GetContextWithStepExecution(ctx, stepExecution)
	ctx, endSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()
	s.metricRecorder.RecordStepStart(ctx, stepExecution)

	opened, err := s.openStreams(ctx, stepExecution)
	if err != nil {
		return s.finish(ctx, stepExecution, opened, err, start, false)
	}

	stepExecution.MarkAsStarted()
	if err := s.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		return s.finish(ctx, stepExecution, opened, exception.NewBatchError(s.name, "failed to update StepExecution status to STARTED", err, false, false), start, false)
	}

	s.notifyBeforeStep(ctx, stepExecution)

	var exhausted atomic.Bool
	_, err = s.stepOperations.Iterate(ctx, func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		if ctx.Err() != nil || s.isStopRequested(stepExecution) {
			rc.SetTerminateOnly()
			return model.RepeatStatusContinuable, nil
		}
		status, err := s.executeChunk(context.WithoutCancel(ctx), stepExecution)
		if err == nil && !status.IsContinuable() {
			exhausted.Store(true)
		}
		return status, err
	})

	// A stop that arrives once the input is exhausted does not stop the step.
	stopped := !exhausted.Load() && (ctx.Err() != nil || s.isStopRequested(stepExecution))
	return s.finish(ctx, stepExecution, opened, err, start, stopped)
}

// executeChunk is the transaction boundary around one tasklet invocation.
// A panic inside the boundary rolls the chunk back like an error, unless the transaction
// was already committed.
func (s *TaskletStep) executeChunk(ctx context.Context, se *model.StepExecution) (status model.RepeatStatus, err error) {
	ctx, endSpan := s.tracer.StartChunkSpan(ctx, se)
	defer endSpan()

	current, err := s.txManager.Begin(ctx, s.GetTransactionOptions())
	if err != nil {
		return model.RepeatStatusFinished, exception.NewBatchError(s.name, "failed to begin chunk transaction", err, false, false)
	}
	txCtx := tx.WithTx(ctx, current)

	var (
		snapshot  *model.StepExecutionSnapshot
		committed bool
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logger.Errorf("TaskletStep '%s': chunk panicked: %v", s.name, r)
		status, err = model.RepeatStatusFinished, chunkPanicError(s.name, r)
		if committed {
			return
		}
		if snapshot != nil {
			// The record was touched under commitMu, which the panic already released.
			s.commitMu.Lock()
			defer s.commitMu.Unlock()
		}
		err = s.rollback(txCtx, se, current, snapshot, err)
	}()

	s.notifyBeforeChunk(txCtx, se)

	contribution := model.NewStepContribution(se)
	status, err = s.tasklet.Execute(txCtx, contribution)
	if err != nil {
		return model.RepeatStatusFinished, s.rollback(txCtx, se, current, nil, err)
	}

	if contribution.IsEmpty() {
		// Nothing was read or written: release the transaction without touching the record.
		if err := s.txManager.Commit(current); err != nil {
			return model.RepeatStatusFinished, exception.NewBatchError(s.name, "failed to release empty chunk transaction", err, false, false)
		}
		committed = true
		logger.Debugf("TaskletStep '%s': empty chunk released (status: %s).", s.name, status)
		return status, nil
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	snapshot = se.Snapshot()
	if err := s.updateStreams(txCtx, se); err != nil {
		return model.RepeatStatusFinished, s.rollback(txCtx, se, current, snapshot, err)
	}
	se.Apply(contribution)
	if err := s.jobRepository.UpdateStepExecution(txCtx, se); err != nil {
		return model.RepeatStatusFinished, s.rollback(txCtx, se, current, snapshot,
			exception.NewBatchError(s.name, "failed to update StepExecution in chunk transaction", err, false, false))
	}
	if err := s.jobRepository.UpdateExecutionContext(txCtx, se); err != nil {
		return model.RepeatStatusFinished, s.rollback(txCtx, se, current, snapshot,
			exception.NewBatchError(s.name, "failed to update ExecutionContext in chunk transaction", err, false, false))
	}
	if err := s.txManager.Commit(current); err != nil {
		return model.RepeatStatusFinished, s.rollback(txCtx, se, current, snapshot,
			exception.NewBatchError(s.name, "failed to commit chunk transaction", err, false, false))
	}
	committed = true

	counters := se.Counters()
	logger.Debugf("TaskletStep '%s': chunk committed (read: %d, written: %d, commits: %d).",
		s.name, contribution.ReadCount(), contribution.WriteCount(), counters.CommitCount)
	s.metricRecorder.RecordItemRead(ctx, s.name, contribution.ReadCount())
	s.metricRecorder.RecordItemWrite(ctx, s.name, contribution.WriteCount())
	s.metricRecorder.RecordChunkCommit(ctx, s.name, contribution.WriteCount())
	s.notifyAfterChunk(ctx, se)
	return status, nil
}

func chunkPanicError(module string, r any) error {
	cause, _ := r.(error)
	return exception.NewBatchError(module, fmt.Sprintf("chunk panicked: %v", r), cause, false, false)
}

// rollback undoes a failed chunk. snapshot is nil when the record was not touched yet.
func (s *TaskletStep) rollback(ctx context.Context, se *model.StepExecution, current tx.Tx, snapshot *model.StepExecutionSnapshot, cause error) error {
	if rbErr := s.txManager.Rollback(current); rbErr != nil {
		logger.Warnf("TaskletStep '%s': rollback failed: %v", s.name, rbErr)
	}
	se.Restore(snapshot)
	se.IncrementRollbackCount()

	logger.Debugf("TaskletStep '%s': chunk rolled back: %v", s.name, cause)
	s.metricRecorder.RecordChunkRollback(ctx, s.name)
	s.tracer.RecordError(ctx, s.name, cause)
	s.notifyAfterChunkError(ctx, se, cause)
	return cause
}

// finish finalizes the execution: streams contribute final state and are closed, the
// terminal status is set and the record is saved. stopped reports that the chunk loop
// ended on a stop request before the input was exhausted.
func (s *TaskletStep) finish(ctx context.Context, se *model.StepExecution, opened []port.ItemStream, runErr error, start time.Time, stopped bool) error {
	ctx = context.WithoutCancel(ctx)
	err := runErr

	// Final state is only contributed by a run that did not fail, so a restart resumes after the last commit.
	if err == nil {
		s.commitMu.Lock()
		updateErr := s.updateStreams(ctx, se)
		s.commitMu.Unlock()
		if updateErr != nil {
			err = updateErr
		}
	}

	if closeErr := s.closeStreams(ctx, opened); closeErr != nil {
		logger.Errorf("TaskletStep '%s': failed to close streams: %v", s.name, closeErr)
		if err == nil {
			err = closeErr
		}
	}

	switch {
	case err != nil:
		logger.Errorf("TaskletStep '%s' failed: %v", s.name, err)
		s.tracer.RecordError(ctx, s.name, err)
		se.MarkAsFailed(err)
	case stopped:
		se.MarkAsStopped()
	default:
		se.MarkAsCompleted()
	}

	if saveErr := s.save(ctx, se); saveErr != nil {
		logger.Errorf("TaskletStep '%s': failed to update final StepExecution state: %v", s.name, saveErr)
		if err == nil {
			err = saveErr
			se.MarkAsFailed(saveErr)
		}
	}

	s.notifyAfterStep(ctx, se)
	s.metricRecorder.RecordStepEnd(ctx, se)
	s.metricRecorder.RecordDuration(ctx, "step.execution", time.Since(start), map[string]string{
		"step_name": s.name,
		"status":    se.CurrentStatus().String(),
	})

	logger.Infof("TaskletStep '%s' finished. Status: %s", s.name, se.CurrentStatus())
	return err
}

func (s *TaskletStep) save(ctx context.Context, se *model.StepExecution) error {
	var result *multierror.Error
	if err := s.jobRepository.UpdateStepExecution(ctx, se); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.jobRepository.UpdateExecutionContext(ctx, se); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// openStreams opens every ItemStream among the participants and returns those that opened.
func (s *TaskletStep) openStreams(ctx context.Context, se *model.StepExecution) ([]port.ItemStream, error) {
	var opened []port.ItemStream
	for _, p := range s.streams {
		stream, ok := p.(port.ItemStream)
		if !ok {
			continue
		}
		if err := stream.Open(ctx, se.ExecutionContext); err != nil {
			return opened, exception.NewBatchError(s.name, "failed to open stream", err, false, false)
		}
		opened = append(opened, stream)
	}
	return opened, nil
}

func (s *TaskletStep) updateStreams(ctx context.Context, se *model.StepExecution) error {
	for _, p := range s.streams {
		if err := p.Update(ctx, se.ExecutionContext); err != nil {
			return exception.NewBatchError(s.name, "stream participant failed to update execution context", err, false, false)
		}
	}
	return nil
}

// closeStreams closes streams in reverse order, aggregating failures.
func (s *TaskletStep) closeStreams(ctx context.Context, opened []port.ItemStream) error {
	var result *multierror.Error
	for i := len(opened) - 1; i >= 0; i-- {
		if err := opened[i].Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// notifyBeforeStep calls the BeforeStep method of registered StepExecutionListeners.
func (s *TaskletStep) notifyBeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.stepExecutionListeners {
		l.BeforeStep(ctx, stepExecution)
	}
}

// notifyAfterStep calls the AfterStep method of registered StepExecutionListeners.
func (s *TaskletStep) notifyAfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.stepExecutionListeners {
		l.AfterStep(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyBeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.chunkListeners {
		l.BeforeChunk(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyAfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	for _, l := range s.chunkListeners {
		l.AfterChunk(ctx, stepExecution)
	}
}

func (s *TaskletStep) notifyAfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error) {
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, stepExecution, err)
	}
}

// Verify that TaskletStep implements the port.Step interface.
var _ port.Step = (*TaskletStep)(nil)
