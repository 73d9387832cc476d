package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

type recordingJobListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingJobListener) BeforeJob(ctx context.Context, je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "before:"+je.CurrentStatus().String())
}

func (l *recordingJobListener) AfterJob(ctx context.Context, je *model.JobExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "after:"+je.CurrentStatus().String())
}

// funcStep is a port.Step whose outcome is decided by fn.
type funcStep struct {
	name string
	fn   func(ctx context.Context, se *model.StepExecution) error
}

func (s *funcStep) Execute(ctx context.Context, se *model.StepExecution) error {
	se.MarkAsStarted()
	if err := s.fn(ctx, se); err != nil {
		se.MarkAsFailed(err)
		return err
	}
	if se.IsStopRequested() {
		se.MarkAsStopped()
		return nil
	}
	se.MarkAsCompleted()
	return nil
}

func (s *funcStep) StepName() string { return s.name }
func (s *funcStep) ID() string       { return s.name }

func numbers(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func newLauncher(repo *inmemory.InMemoryJobRepository, listeners ...port.JobExecutionListener) *usecase.SimpleJobLauncher {
	return usecase.NewSimpleJobLauncher(usecase.LauncherParams{JobRepository: repo, Listeners: listeners})
}

func TestLaunch_ChunkStepCompletesJob(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	writer := item.NewListItemWriter[int]()
	step, err := tasklet.NewStepBuilder[int]("numbersStep").
		Reader(item.NewListItemReader("numbers", numbers(25))).
		Writer(writer).
		ChunkSize(2).
		TransactionManager(tx.NewResourcelessTransactionManager()).
		Repository(repo).
		Build()
	require.NoError(t, err)

	listener := &recordingJobListener{}
	je, err := newLauncher(repo, listener).Launch(ctx, "numbersJob", step)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.CurrentStatus())
	assert.Equal(t, []string{"before:STARTED", "after:COMPLETED"}, listener.events)
	assert.Len(t, writer.Items(), 25)

	explorer := usecase.NewSimpleJobExplorer(repo)
	stored, err := explorer.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.NotNil(t, stored.EndTime)

	steps, err := explorer.GetStepExecutions(ctx, je.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 25, steps[0].ReadCount)
	assert.Equal(t, 25, steps[0].WriteCount)
	assert.Equal(t, 13, steps[0].CommitCount)
}

func TestLaunch_FailedStepSkipsRemainingSteps(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ran := false
	first := &funcStep{name: "first", fn: func(context.Context, *model.StepExecution) error { return errors.New("boom") }}
	second := &funcStep{name: "second", fn: func(context.Context, *model.StepExecution) error { ran = true; return nil }}

	je, err := newLauncher(repo).Launch(context.Background(), "failingJob", first, second)
	require.NoError(t, err, "a failed step is reported through the status")
	assert.False(t, ran)
	assert.Equal(t, model.BatchStatusFailed, je.CurrentStatus())
	assert.Len(t, je.StepExecutionsSnapshot(), 1)
	assert.NotEmpty(t, je.Clone().Failures)
}

func TestLaunch_NoSteps(t *testing.T) {
	_, err := newLauncher(inmemory.NewInMemoryJobRepository()).Launch(context.Background(), "emptyJob")
	assert.ErrorContains(t, err, "has no steps")
}

func TestLaunch_SaveFailureIsReturned(t *testing.T) {
	repo := new(test.MockJobRepository)
	repo.On("SaveJobExecution", mock.Anything, mock.Anything).Return(errors.New("database is locked"))
	ran := false
	step := &funcStep{name: "only", fn: func(context.Context, *model.StepExecution) error { ran = true; return nil }}

	launcher := usecase.NewSimpleJobLauncher(usecase.LauncherParams{JobRepository: repo})
	_, err := launcher.Launch(context.Background(), "lockedJob", step)
	assert.ErrorContains(t, err, "failed to save JobExecution")
	assert.ErrorContains(t, err, "database is locked")
	assert.False(t, ran)
	repo.AssertExpectations(t)
}

func TestOperator_StopRunningJob(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	launcher := newLauncher(repo)
	operator := usecase.NewDefaultJobOperator(repo, launcher)

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := &funcStep{name: "blocking", fn: func(ctx context.Context, se *model.StepExecution) error {
		close(started)
		<-release
		return nil
	}}
	neverRuns := &funcStep{name: "after", fn: func(context.Context, *model.StepExecution) error {
		t.Error("step after a stop request must not run")
		return nil
	}}

	done := make(chan *model.JobExecution)
	go func() {
		je, err := launcher.Launch(ctx, "stoppableJob", blocking, neverRuns)
		assert.NoError(t, err)
		done <- je
	}()

	<-started
	running := operator.RunningExecutions()
	require.Len(t, running, 1)
	require.NoError(t, operator.Stop(ctx, running[0]))
	close(release)

	select {
	case je := <-done:
		assert.Equal(t, model.BatchStatusStopped, je.CurrentStatus())
		assert.Empty(t, operator.RunningExecutions())
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop")
	}
}

func TestOperator_StopUnknownExecution(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	operator := usecase.NewDefaultJobOperator(repo, newLauncher(repo))
	assert.Error(t, operator.Stop(context.Background(), "missing"))
}
