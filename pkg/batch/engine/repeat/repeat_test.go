package repeat_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/task"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func mustCount(t *testing.T, n int) *repeat.CompletionPolicy {
	t.Helper()
	p, err := repeat.NewCountCompletionPolicy(n)
	require.NoError(t, err)
	return p
}

func TestPolicyConstructors_RejectInvalidInput(t *testing.T) {
	var cfgErr *exception.ConfigurationError

	_, err := repeat.NewCountCompletionPolicy(0)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = repeat.NewCountCompletionPolicy(-3)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = repeat.NewTimeoutCompletionPolicy(0)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = repeat.NewCompositeCompletionPolicy()
	assert.ErrorAs(t, err, &cfgErr)
	_, err = repeat.NewCompositeCompletionPolicy(nil)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = repeat.NewTaskExecutorRepeatTemplate(nil, 2, nil)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = repeat.NewTaskExecutorRepeatTemplate(task.NewSyncWorkerPool(), 0, nil)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCompletionPolicy_Variants(t *testing.T) {
	count := mustCount(t, 2)
	rc := count.Start(nil)
	assert.False(t, count.IsComplete(rc))
	count.Update(rc)
	assert.False(t, count.IsComplete(rc))
	count.Update(rc)
	assert.True(t, count.IsComplete(rc))

	timeout, err := repeat.NewTimeoutCompletionPolicy(time.Millisecond)
	require.NoError(t, err)
	rc = timeout.Start(nil)
	time.Sleep(3 * time.Millisecond)
	assert.True(t, timeout.IsComplete(rc))

	composite, err := repeat.NewCompositeCompletionPolicy(mustCount(t, 5), mustCount(t, 1))
	require.NoError(t, err)
	assert.Equal(t, "composite(count(5),count(1))", composite.String())
	rc = composite.Start(nil)
	assert.False(t, composite.IsComplete(rc))
	composite.Update(rc)
	assert.True(t, composite.IsComplete(rc))

	unbounded := repeat.DefaultCompletionPolicy()
	rc = unbounded.Start(nil)
	for i := 0; i < 100; i++ {
		unbounded.Update(rc)
	}
	assert.False(t, unbounded.IsComplete(rc))
	assert.True(t, unbounded.IsCompleteWithResult(rc, model.RepeatStatusFinished))
	rc.SetCompleteOnly()
	assert.True(t, unbounded.IsComplete(rc))
}

func TestRepeatTemplate_StopsOnPolicy(t *testing.T) {
	tmpl := repeat.NewRepeatTemplate(mustCount(t, 3))
	calls := 0

	status, err := tmpl.Iterate(context.Background(), func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		calls++
		return model.RepeatStatusContinuable, nil
	})

	require.NoError(t, err)
	assert.Equal(t, model.RepeatStatusContinuable, status)
	assert.Equal(t, 3, calls)
}

func TestRepeatTemplate_StopsOnFinished(t *testing.T) {
	tmpl := repeat.NewRepeatTemplate(nil)
	calls := 0

	status, err := tmpl.Iterate(context.Background(), func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		calls++
		if calls == 4 {
			return model.RepeatStatusFinished, nil
		}
		return model.RepeatStatusContinuable, nil
	})

	require.NoError(t, err)
	assert.Equal(t, model.RepeatStatusFinished, status)
	assert.Equal(t, 4, calls)
}

func TestRepeatTemplate_ErrorEndsRun(t *testing.T) {
	boom := errors.New("boom")
	tmpl := repeat.NewRepeatTemplate(nil)

	_, err := tmpl.Iterate(context.Background(), func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		return model.RepeatStatusContinuable, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRepeatTemplate_NestedContexts(t *testing.T) {
	outer := repeat.NewRepeatTemplate(mustCount(t, 2))
	inner := repeat.NewRepeatTemplate(mustCount(t, 3))

	innerCalls := 0
	var innerContexts []*repeat.RepeatContext
	_, err := outer.Iterate(context.Background(), func(ctx context.Context, outerRC *repeat.RepeatContext) (model.RepeatStatus, error) {
		return inner.Iterate(ctx, func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
			innerCalls++
			innerContexts = append(innerContexts, rc)
			assert.Same(t, outerRC, rc.Parent())
			assert.Same(t, rc, repeat.FromContext(ctx))
			return model.RepeatStatusContinuable, nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 6, innerCalls)
	assert.Same(t, innerContexts[0], innerContexts[2])
	assert.NotSame(t, innerContexts[0], innerContexts[3], "each outer iteration starts a fresh inner context")
}

func TestRepeatTemplate_CanceledContextTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	status, err := repeat.NewRepeatTemplate(nil).Iterate(ctx, func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return model.RepeatStatusContinuable, nil
	})

	require.NoError(t, err)
	assert.Equal(t, model.RepeatStatusContinuable, status)
	assert.Equal(t, 2, calls)
}

func TestTaskExecutorRepeatTemplate_RunsUntilFinished(t *testing.T) {
	pool := task.NewBoundedWorkerPool(4)
	tmpl, err := repeat.NewTaskExecutorRepeatTemplate(pool, 4, nil)
	require.NoError(t, err)

	var remaining atomic.Int64
	remaining.Store(25)
	var done atomic.Int64

	status, err := tmpl.Iterate(context.Background(), func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		if remaining.Add(-1) < 0 {
			return model.RepeatStatusFinished, nil
		}
		done.Add(1)
		return model.RepeatStatusContinuable, nil
	})

	require.NoError(t, err)
	assert.Equal(t, model.RepeatStatusFinished, status)
	assert.Equal(t, int64(25), done.Load())
	assert.LessOrEqual(t, pool.Peak(), 4)
}

func TestTaskExecutorRepeatTemplate_ThrottleLimit(t *testing.T) {
	tmpl, err := repeat.NewTaskExecutorRepeatTemplate(task.NewAsyncWorkerPool(), 3, mustCount(t, 12))
	require.NoError(t, err)

	var inFlight, peak atomic.Int64
	var calls atomic.Int64
	_, err = tmpl.Iterate(context.Background(), func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		calls.Add(1)
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return model.RepeatStatusContinuable, nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.GreaterOrEqual(t, calls.Load(), int64(12))
	assert.LessOrEqual(t, calls.Load(), int64(12+3-1))
}

func TestTaskExecutorRepeatTemplate_DrainsAndAggregatesErrors(t *testing.T) {
	tmpl, err := repeat.NewTaskExecutorRepeatTemplate(task.NewAsyncWorkerPool(), 3, nil)
	require.NoError(t, err)

	first := errors.New("first")
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(3)
	var calls atomic.Int64
	var completed atomic.Int64

	_, err = tmpl.Iterate(context.Background(), func(ctx context.Context, rc *repeat.RepeatContext) (model.RepeatStatus, error) {
		n := calls.Add(1)
		if n <= 3 {
			started.Done()
		}
		switch n {
		case 1:
			started.Wait()
			close(release)
			return model.RepeatStatusContinuable, first
		default:
			<-release
			time.Sleep(5 * time.Millisecond)
			completed.Add(1)
			if n == 2 {
				return model.RepeatStatusContinuable, errors.New("second")
			}
			return model.RepeatStatusContinuable, nil
		}
	})

	var drain *exception.ConcurrencyDrainError
	require.ErrorAs(t, err, &drain)
	assert.Equal(t, first, drain.Primary)
	assert.Len(t, drain.SuppressedErrors(), 1)
	assert.Equal(t, int64(3), calls.Load(), "no iteration dispatched after the first failure")
	assert.Equal(t, int64(2), completed.Load(), "in-flight iterations drain")
}
