package tasklet_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/task"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

func numbers(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

type fixture struct {
	repo    *inmemory.InMemoryJobRepository
	txm     *tx.ResourcelessTransactionManager
	reader  *item.ListItemReader[int]
	writer  *item.ListItemWriter[int]
	counter *test.CounterParticipant
	se      *model.StepExecution
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	f := &fixture{
		repo:    inmemory.NewInMemoryJobRepository(),
		txm:     tx.NewResourcelessTransactionManager(),
		reader:  item.NewListItemReader("numbers", numbers(n)),
		writer:  item.NewListItemWriter[int](),
		counter: &test.CounterParticipant{Key: "counter"},
	}
	je := test.NewTestJobExecution("numbersJob")
	require.NoError(t, f.repo.SaveJobExecution(context.Background(), je))
	se, err := f.repo.CreateStepExecution(context.Background(), je, "numbersStep")
	require.NoError(t, err)
	f.se = se
	return f
}

func (f *fixture) builder(writer port.ItemWriter[int]) *tasklet.StepBuilder[int] {
	if writer == nil {
		writer = f.writer
	}
	return tasklet.NewStepBuilder[int]("numbersStep").
		Reader(f.reader).
		Writer(writer).
		ChunkSize(2).
		Repository(f.repo).
		TransactionManager(f.txm).
		Stream(f.counter)
}

func TestTaskletStep_ChunkedRun(t *testing.T) {
	cases := []struct {
		name       string
		concurrent bool
	}{
		{name: "sync"},
		{name: "concurrent", concurrent: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 25)
			b := f.builder(nil)
			var pool *task.BoundedWorkerPool
			if tc.concurrent {
				pool = task.NewBoundedWorkerPool(4)
				b.TaskExecutor(pool, 4)
			}
			step, err := b.Build()
			require.NoError(t, err)

			require.NoError(t, step.Execute(context.Background(), f.se))

			assert.Equal(t, model.BatchStatusCompleted, f.se.Status)
			assert.Equal(t, model.ExitStatusCompleted, f.se.ExitStatus)
			counters := f.se.Counters()
			assert.Equal(t, 25, counters.ReadCount)
			assert.Equal(t, 25, counters.WriteCount)
			assert.Equal(t, 13, counters.CommitCount)
			assert.Equal(t, 0, counters.RollbackCount)

			assert.ElementsMatch(t, numbers(25), f.writer.Items())
			assert.Len(t, f.writer.Chunks(), 13)
			if !tc.concurrent {
				assert.Equal(t, numbers(25), f.writer.Items())
			} else {
				assert.LessOrEqual(t, pool.Peak(), 4)
			}

			begun, committed, rolledBack := f.txm.Stats()
			assert.Equal(t, begun, committed)
			assert.Zero(t, rolledBack)
			if tc.concurrent {
				// Workers may start chunks that find the reader exhausted.
				assert.GreaterOrEqual(t, begun, int64(13))
			} else {
				assert.Equal(t, int64(13), begun)
			}

			assert.Equal(t, 14, f.counter.Updates, "one update per commit plus the final one")

			stored, err := f.repo.FindStepExecutionByID(context.Background(), f.se.ID)
			require.NoError(t, err)
			assert.Equal(t, model.BatchStatusCompleted, stored.Status)
			assert.Equal(t, 25, stored.ReadCount)
			assert.Equal(t, 13, stored.CommitCount)
			count, ok := stored.ExecutionContext.GetInt("counter")
			assert.True(t, ok)
			assert.Equal(t, 14, count)
			pos, _ := stored.ExecutionContext.GetInt("numbers.read.count")
			assert.Equal(t, 25, pos)
		})
	}
}

type failingWriter struct {
	mu     sync.Mutex
	calls  int
	failOn int
	err    error
}

func (w *failingWriter) Write(ctx context.Context, t tx.Tx, items []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls == w.failOn {
		return w.err
	}
	return nil
}

func TestTaskletStep_WriteFailureRollsBackChunk(t *testing.T) {
	f := newFixture(t, 25)
	boom := errors.New("disk full")
	step, err := f.builder(&failingWriter{failOn: 3, err: boom}).Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.se)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var writeErr *exception.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 2, writeErr.ItemCount)

	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	counters := f.se.Counters()
	assert.Equal(t, 2, counters.CommitCount)
	assert.Equal(t, 1, counters.RollbackCount)
	assert.Equal(t, 4, counters.ReadCount, "reads of the rolled back chunk are not counted")
	assert.Equal(t, 4, counters.WriteCount)
	assert.NotEmpty(t, f.se.Failures)

	_, _, rolledBack := f.txm.Stats()
	assert.Equal(t, int64(1), rolledBack)
	assert.Equal(t, 2, f.counter.Updates, "no final update after a failure")

	stored, err := f.repo.FindStepExecutionByID(context.Background(), f.se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	pos, _ := stored.ExecutionContext.GetInt("numbers.read.count")
	assert.Equal(t, 4, pos, "restart resumes after the last committed chunk")
}

func TestTaskletStep_ConcurrentFailureDrains(t *testing.T) {
	f := newFixture(t, 25)
	boom := errors.New("disk full")
	step, err := f.builder(&failingWriter{failOn: 2, err: boom}).
		TaskExecutor(task.NewBoundedWorkerPool(4), 4).
		Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.se)
	var drain *exception.ConcurrencyDrainError
	require.ErrorAs(t, err, &drain)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)

	counters := f.se.Counters()
	assert.Equal(t, 1, counters.RollbackCount)
	assert.Equal(t, counters.ReadCount, counters.WriteCount)
	assert.Equal(t, counters.CommitCount*2, counters.WriteCount)
}

type stopAfter struct {
	step    *tasklet.TaskletStep
	commits int
	seen    int
}

func (l *stopAfter) BeforeChunk(ctx context.Context, se *model.StepExecution) {}

func (l *stopAfter) AfterChunk(ctx context.Context, se *model.StepExecution) {
	l.seen++
	if l.seen == l.commits {
		l.step.Stop()
	}
}

func (l *stopAfter) AfterChunkError(ctx context.Context, se *model.StepExecution, err error) {}

func TestTaskletStep_StopBetweenChunks(t *testing.T) {
	f := newFixture(t, 25)
	listener := &stopAfter{commits: 3}
	step, err := f.builder(nil).ChunkListener(listener).Build()
	require.NoError(t, err)
	listener.step = step

	require.NoError(t, step.Execute(context.Background(), f.se))

	assert.Equal(t, model.BatchStatusStopped, f.se.Status)
	assert.Equal(t, model.ExitStatusStopped, f.se.ExitStatus)
	assert.Equal(t, 3, f.se.Counters().CommitCount)
	assert.Equal(t, numbers(6), f.writer.Items())
}

func TestTaskletStep_RequestStopOnExecution(t *testing.T) {
	f := newFixture(t, 25)
	f.se.RequestStop()
	step, err := f.builder(nil).Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), f.se))
	assert.Equal(t, model.BatchStatusStopped, f.se.Status)
	assert.Zero(t, f.se.Counters().CommitCount)
}

func TestTaskletStep_CanceledContextStops(t *testing.T) {
	f := newFixture(t, 25)
	step, err := f.builder(nil).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, step.Execute(ctx, f.se))

	assert.Equal(t, model.BatchStatusStopped, f.se.Status)
	assert.Zero(t, f.se.Counters().CommitCount)
	assert.Empty(t, f.writer.Items())
}

func TestTaskletStep_RestartResumesFromExecutionContext(t *testing.T) {
	f := newFixture(t, 25)
	f.se.ExecutionContext.Put("numbers.read.count", 10)
	step, err := f.builder(nil).Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), f.se))

	assert.Equal(t, numbers(25)[10:], f.writer.Items())
	counters := f.se.Counters()
	assert.Equal(t, 15, counters.ReadCount)
	assert.Equal(t, 8, counters.CommitCount)
}

type orderedCloser struct {
	name   string
	closed *[]string
	err    error
}

func (c *orderedCloser) Open(ctx context.Context, ec model.ExecutionContext) error   { return nil }
func (c *orderedCloser) Update(ctx context.Context, ec model.ExecutionContext) error { return nil }
func (c *orderedCloser) Close(ctx context.Context) error {
	*c.closed = append(*c.closed, c.name)
	return c.err
}

func TestTaskletStep_CloseErrorsAreAggregated(t *testing.T) {
	f := newFixture(t, 3)
	var closed []string
	first := &orderedCloser{name: "first", closed: &closed, err: errors.New("first close")}
	second := &orderedCloser{name: "second", closed: &closed, err: errors.New("second close")}

	step, err := f.builder(nil).Stream(first, second).Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.se)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.Equal(t, []string{"second", "first"}, closed)
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Equal(t, 2, f.se.Counters().CommitCount, "committed chunks stay committed")
}

func TestTaskletStep_OpenFailure(t *testing.T) {
	f := newFixture(t, 3)
	stream := new(test.MockStreamParticipant)
	stream.On("Open", mock.Anything, mock.Anything).Return(errors.New("no such file"))

	step, err := f.builder(nil).Stream(stream).Build()
	require.NoError(t, err)

	require.Error(t, step.Execute(context.Background(), f.se))
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Empty(t, f.writer.Items())
	stream.AssertNotCalled(t, "Close", mock.Anything)
}

type recordingListener struct {
	events []string
}

func (l *recordingListener) BeforeStep(ctx context.Context, se *model.StepExecution) {
	l.events = append(l.events, "beforeStep:"+se.Status.String())
}

func (l *recordingListener) AfterStep(ctx context.Context, se *model.StepExecution) {
	l.events = append(l.events, "afterStep:"+se.Status.String())
}

func TestTaskletStep_StepListeners(t *testing.T) {
	f := newFixture(t, 1)
	listener := &recordingListener{}
	step, err := f.builder(nil).Listener(listener).Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), f.se))
	assert.Equal(t, []string{"beforeStep:STARTED", "afterStep:COMPLETED"}, listener.events)
}

func TestNewTaskletStep_Validation(t *testing.T) {
	var cfgErr *exception.ConfigurationError
	repo := inmemory.NewInMemoryJobRepository()
	txm := tx.NewResourcelessTransactionManager()
	noop := port.Tasklet(nil)

	_, err := tasklet.NewTaskletStep("s", noop, repo, txm)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = tasklet.NewStepBuilder[int]("s").Reader(item.NewNoOpItemReader[int]()).Writer(item.NewNoOpItemWriter[int]()).Build()
	assert.ErrorAs(t, err, &cfgErr, "chunk size is required")

	_, err = tasklet.NewStepBuilder[int]("s").ChunkSize(2).Reader(item.NewNoOpItemReader[int]()).Writer(item.NewNoOpItemWriter[int]()).Build()
	assert.ErrorAs(t, err, &cfgErr, "repository is required")

	_, err = tasklet.NewStepBuilder[int]("s").ChunkSize(2).Repository(repo).Writer(item.NewNoOpItemWriter[int]()).Build()
	assert.ErrorAs(t, err, &cfgErr, "reader is required")

	step, err := tasklet.NewStepBuilder[int]("s").ChunkSize(2).Repository(repo).
		Reader(item.NewNoOpItemReader[int]()).Writer(item.NewNoOpItemWriter[int]()).
		IsolationLevel("SERIALIZABLE").Build()
	require.NoError(t, err)
	assert.Equal(t, "s", step.ID())
	assert.Equal(t, "s", step.StepName())
	assert.Equal(t, "Serializable", step.GetTransactionOptions().Isolation.String())
}

func TestTaskletStep_BeginFailureFailsStep(t *testing.T) {
	f := newFixture(t, 25)
	mockTx := new(test.MockTx)
	txm := new(test.MockTxManager)
	txm.On("Begin", mock.Anything, mock.Anything).Return(mockTx, nil).Once()
	txm.On("Begin", mock.Anything, mock.Anything).Return(nil, errors.New("pool exhausted")).Once()
	txm.On("Commit", mockTx).Run(func(mock.Arguments) { mockTx.TriggerAfterCommit() }).Return(nil).Once()

	step, err := f.builder(nil).TransactionManager(txm).Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.se)
	assert.ErrorContains(t, err, "failed to begin chunk transaction")
	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	assert.Equal(t, 1, f.se.Counters().CommitCount)
	assert.Equal(t, []int{1, 2}, f.writer.Items())
	txm.AssertExpectations(t)
}

func TestTaskletStep_TrailingEmptyChunk(t *testing.T) {
	f := newFixture(t, 24)
	step, err := f.builder(nil).Build()
	require.NoError(t, err)

	require.NoError(t, step.Execute(context.Background(), f.se))

	assert.Equal(t, model.BatchStatusCompleted, f.se.Status)
	counters := f.se.Counters()
	assert.Equal(t, 24, counters.ReadCount)
	assert.Equal(t, 24, counters.WriteCount)
	assert.Equal(t, 12, counters.CommitCount, "the empty chunk does not count as a commit")
	assert.Len(t, f.writer.Chunks(), 12, "writers do not see the empty chunk")

	begun, committed, rolledBack := f.txm.Stats()
	assert.Equal(t, int64(13), begun)
	assert.Equal(t, int64(13), committed)
	assert.Zero(t, rolledBack)
}

type panickingWriter struct {
	mu      sync.Mutex
	calls   int
	panicOn int
}

func (w *panickingWriter) Write(ctx context.Context, t tx.Tx, items []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls == w.panicOn {
		panic("writer exploded")
	}
	return nil
}

func TestTaskletStep_WriterPanicRollsBackChunk(t *testing.T) {
	cases := []struct {
		name       string
		concurrent bool
	}{
		{name: "sync"},
		{name: "concurrent", concurrent: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 25)
			b := f.builder(&panickingWriter{panicOn: 2})
			if tc.concurrent {
				b.TaskExecutor(task.NewBoundedWorkerPool(1), 1)
			}
			step, err := b.Build()
			require.NoError(t, err)

			err = step.Execute(context.Background(), f.se)
			require.Error(t, err)
			assert.ErrorContains(t, err, "chunk panicked: writer exploded")

			assert.Equal(t, model.BatchStatusFailed, f.se.Status)
			counters := f.se.Counters()
			assert.Equal(t, 1, counters.CommitCount)
			assert.Equal(t, 1, counters.RollbackCount)
			assert.Equal(t, 2, counters.ReadCount)
			assert.Equal(t, 2, counters.WriteCount)

			begun, committed, rolledBack := f.txm.Stats()
			assert.Equal(t, int64(1), committed)
			assert.Equal(t, int64(1), rolledBack)
			assert.Equal(t, committed+rolledBack, begun)

			stored, err := f.repo.FindStepExecutionByID(context.Background(), f.se.ID)
			require.NoError(t, err)
			assert.Equal(t, model.BatchStatusFailed, stored.Status)
			assert.Equal(t, 1, stored.RollbackCount)
		})
	}
}

type failingReader struct {
	next   int
	failAt int
	err    error
}

func (r *failingReader) Read(ctx context.Context) (int, error) {
	r.next++
	if r.next == r.failAt {
		return 0, r.err
	}
	return r.next, nil
}

func TestTaskletStep_ReadFailureRollsBackChunk(t *testing.T) {
	f := newFixture(t, 0)
	boom := errors.New("connection reset")
	step, err := tasklet.NewStepBuilder[int]("numbersStep").
		Reader(&failingReader{failAt: 5, err: boom}).
		Writer(f.writer).
		ChunkSize(2).
		Repository(f.repo).
		TransactionManager(f.txm).
		Build()
	require.NoError(t, err)

	err = step.Execute(context.Background(), f.se)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var readErr *exception.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Zero(t, readErr.ItemIndex)

	assert.Equal(t, model.BatchStatusFailed, f.se.Status)
	counters := f.se.Counters()
	assert.Equal(t, 4, counters.ReadCount)
	assert.Equal(t, 4, counters.WriteCount)
	assert.Equal(t, 2, counters.CommitCount)
	assert.Equal(t, 1, counters.RollbackCount)
	assert.Equal(t, []int{1, 2, 3, 4}, f.writer.Items())

	_, _, rolledBack := f.txm.Stats()
	assert.Equal(t, int64(1), rolledBack)

	stored, err := f.repo.FindStepExecutionByID(context.Background(), f.se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RollbackCount)
}

func TestTaskletStep_StopAfterLastChunkCompletes(t *testing.T) {
	f := newFixture(t, 25)
	listener := &stopAfter{commits: 13}
	step, err := f.builder(nil).ChunkListener(listener).Build()
	require.NoError(t, err)
	listener.step = step

	require.NoError(t, step.Execute(context.Background(), f.se))

	assert.Equal(t, model.BatchStatusCompleted, f.se.Status)
	assert.Equal(t, 13, f.se.Counters().CommitCount)
	assert.Equal(t, numbers(25), f.writer.Items())
}
