package tasklet

import (
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/core/task"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// StepBuilder assembles a chunk-oriented TaskletStep.
//
// Readers and writers implementing port.ItemStream are registered as streams ahead of any
// stream added explicitly.
type StepBuilder[T any] struct {
	name             string
	reader           port.ItemReader[T]
	writer           port.ItemWriter[T]
	chunkSize        int
	policy           *repeat.CompletionPolicy
	txManager        tx.TransactionManager
	jobRepository    repository.JobRepository
	pool             task.WorkerPool
	throttleLimit    int
	writeEmptyChunks bool
	isolationLevel   string
	streams          []port.StreamParticipant
	stepListeners    []port.StepExecutionListener
	chunkListeners   []port.ChunkListener
	metricRecorder   metrics.MetricRecorder
	tracer           metrics.Tracer
}

// NewStepBuilder starts building a step named name.
func NewStepBuilder[T any](name string) *StepBuilder[T] {
	return &StepBuilder[T]{name: name, throttleLimit: repeat.DefaultThrottleLimit}
}

func (b *StepBuilder[T]) Reader(r port.ItemReader[T]) *StepBuilder[T] { b.reader = r; return b }

func (b *StepBuilder[T]) Writer(w port.ItemWriter[T]) *StepBuilder[T] { b.writer = w; return b }

// ChunkSize bounds each chunk by item count. It is ignored when CompletionPolicy is set.
func (b *StepBuilder[T]) ChunkSize(n int) *StepBuilder[T] { b.chunkSize = n; return b }

// CompletionPolicy bounds each chunk by an explicit policy.
func (b *StepBuilder[T]) CompletionPolicy(p *repeat.CompletionPolicy) *StepBuilder[T] {
	b.policy = p
	return b
}

// TransactionManager sets the chunk transaction manager. The default is resourceless.
func (b *StepBuilder[T]) TransactionManager(m tx.TransactionManager) *StepBuilder[T] {
	b.txManager = m
	return b
}

func (b *StepBuilder[T]) Repository(r repository.JobRepository) *StepBuilder[T] {
	b.jobRepository = r
	return b
}

// TaskExecutor runs chunks concurrently on pool with at most throttleLimit in flight.
func (b *StepBuilder[T]) TaskExecutor(pool task.WorkerPool, throttleLimit int) *StepBuilder[T] {
	b.pool = pool
	b.throttleLimit = throttleLimit
	return b
}

// WriteEmptyChunks makes the writer see chunks that read no items.
func (b *StepBuilder[T]) WriteEmptyChunks(enabled bool) *StepBuilder[T] {
	b.writeEmptyChunks = enabled
	return b
}

func (b *StepBuilder[T]) IsolationLevel(level string) *StepBuilder[T] {
	b.isolationLevel = level
	return b
}

func (b *StepBuilder[T]) Stream(streams ...port.StreamParticipant) *StepBuilder[T] {
	b.streams = append(b.streams, streams...)
	return b
}

func (b *StepBuilder[T]) Listener(listeners ...port.StepExecutionListener) *StepBuilder[T] {
	b.stepListeners = append(b.stepListeners, listeners...)
	return b
}

func (b *StepBuilder[T]) ChunkListener(listeners ...port.ChunkListener) *StepBuilder[T] {
	b.chunkListeners = append(b.chunkListeners, listeners...)
	return b
}

func (b *StepBuilder[T]) MetricRecorder(r metrics.MetricRecorder) *StepBuilder[T] {
	b.metricRecorder = r
	return b
}

func (b *StepBuilder[T]) Tracer(t metrics.Tracer) *StepBuilder[T] {
	b.tracer = t
	return b
}

// Build validates the configuration and creates the step.
func (b *StepBuilder[T]) Build() (*TaskletStep, error) {
	policy := b.policy
	if policy == nil {
		var err error
		if policy, err = repeat.NewCountCompletionPolicy(b.chunkSize); err != nil {
			return nil, err
		}
	}
	if b.jobRepository == nil {
		return nil, exception.NewConfigurationError(b.name, "job repository is required", nil)
	}

	chunkTasklet, err := item.NewChunkOrientedTasklet[T](b.name, b.reader, b.writer, policy, item.WithWriteEmptyChunks(b.writeEmptyChunks))
	if err != nil {
		return nil, err
	}

	txManager := b.txManager
	if txManager == nil {
		txManager = tx.NewResourcelessTransactionManager()
	}

	streams := make([]port.StreamParticipant, 0, len(b.streams)+2)
	for _, s := range chunkTasklet.Streams() {
		streams = append(streams, s)
	}
	streams = append(streams, b.streams...)

	opts := []Option{
		WithStreams(streams...),
		WithStepExecutionListeners(b.stepListeners...),
		WithChunkListeners(b.chunkListeners...),
		WithIsolationLevel(b.isolationLevel),
		WithMetricRecorder(b.metricRecorder),
		WithTracer(b.tracer),
	}
	if b.pool != nil {
		ops, err := repeat.NewTaskExecutorRepeatTemplate(b.pool, b.throttleLimit, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStepOperations(ops))
	}

	return NewTaskletStep(b.name, chunkTasklet, b.jobRepository, txManager, opts...)
}
