package task_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/task"
)

func TestPools_SubmitAndJoin(t *testing.T) {
	pools := map[string]task.WorkerPool{
		"sync":    task.NewSyncWorkerPool(),
		"async":   task.NewAsyncWorkerPool(),
		"bounded": task.NewBoundedWorkerPool(2),
	}
	for name, pool := range pools {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f, err := pool.Submit(ctx, func(context.Context) (any, error) { return 42, nil })
			require.NoError(t, err)
			v, err := pool.Join(ctx, f)
			require.NoError(t, err)
			assert.Equal(t, 42, v)

			boom := errors.New("boom")
			f, err = pool.Submit(ctx, func(context.Context) (any, error) { return nil, boom })
			require.NoError(t, err)
			_, err = pool.Join(ctx, f)
			assert.ErrorIs(t, err, boom)

			f, err = pool.Submit(ctx, func(context.Context) (any, error) { panic("kaboom") })
			require.NoError(t, err)
			_, err = pool.Join(ctx, f)
			assert.ErrorContains(t, err, "kaboom")
		})
	}
}

func TestBoundedWorkerPool_LimitsConcurrency(t *testing.T) {
	pool := task.NewBoundedWorkerPool(3)
	ctx := context.Background()

	var running, maxSeen atomic.Int64
	var futures []*task.Future
	for i := 0; i < 12; i++ {
		f, err := pool.Submit(ctx, func(context.Context) (any, error) {
			n := running.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	for _, f := range futures {
		_, err := pool.Join(ctx, f)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, maxSeen.Load(), int64(3))
	assert.LessOrEqual(t, pool.Peak(), 3)
	require.NoError(t, pool.Shutdown(ctx))

	_, err := pool.Submit(ctx, func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, task.ErrPoolClosed)
}

func TestBoundedWorkerPool_SubmitHonorsContext(t *testing.T) {
	pool := task.NewBoundedWorkerPool(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	_, err := pool.Submit(context.Background(), func(context.Context) (any, error) {
		defer wg.Done()
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Submit(ctx, func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	wg.Wait()
}

func TestJoin_ContextEnds(t *testing.T) {
	pool := task.NewAsyncWorkerPool()
	block := make(chan struct{})
	f, err := pool.Submit(context.Background(), func(context.Context) (any, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Join(ctx, f)
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestNew(t *testing.T) {
	p, err := task.New("bounded", 4)
	require.NoError(t, err)
	assert.IsType(t, &task.BoundedWorkerPool{}, p)

	_, err = task.New("forkjoin", 1)
	assert.Error(t, err)
}
