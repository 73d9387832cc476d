// Package task provides the worker pools that run units of work for the concurrent repeat engine.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ErrPoolClosed is returned by Submit after the pool has been shut down.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Work is a unit of work submitted to a WorkerPool.
type Work func(ctx context.Context) (any, error)

// WorkerPool runs units of work and hands back their results.
type WorkerPool interface {
	// Submit schedules work and returns a handle to its result.
	// It may block until the pool has capacity, and returns ctx.Err() if ctx ends first.
	Submit(ctx context.Context, work Work) (*Future, error)
	// Join waits for f to complete and returns its result.
	Join(ctx context.Context, f *Future) (any, error)
}

// Future is the handle of a submitted unit of work.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the work has completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) complete(result any, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// run executes work, converting a panic into an error.
func (f *Future) run(ctx context.Context, work Work) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Worker panicked: %v", r)
			f.complete(nil, fmt.Errorf("worker panic: %v", r))
		}
	}()
	res, err := work(ctx)
	f.complete(res, err)
}

func join(ctx context.Context, f *Future) (any, error) {
	if f == nil {
		return nil, errors.New("nil future")
	}
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SyncWorkerPool runs each unit of work on the calling goroutine inside Submit.
type SyncWorkerPool struct{}

// NewSyncWorkerPool creates a SyncWorkerPool.
func NewSyncWorkerPool() *SyncWorkerPool { return &SyncWorkerPool{} }

func (p *SyncWorkerPool) Submit(ctx context.Context, work Work) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := newFuture()
	f.run(ctx, work)
	return f, nil
}

func (p *SyncWorkerPool) Join(ctx context.Context, f *Future) (any, error) {
	return join(ctx, f)
}

// AsyncWorkerPool starts one goroutine per unit of work.
type AsyncWorkerPool struct {
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewAsyncWorkerPool creates an AsyncWorkerPool.
func NewAsyncWorkerPool() *AsyncWorkerPool { return &AsyncWorkerPool{} }

func (p *AsyncWorkerPool) Submit(ctx context.Context, work Work) (*Future, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := newFuture()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		f.run(ctx, work)
	}()
	return f, nil
}

func (p *AsyncWorkerPool) Join(ctx context.Context, f *Future) (any, error) {
	return join(ctx, f)
}

// Shutdown rejects new work and waits for running work to finish or ctx to end.
func (p *AsyncWorkerPool) Shutdown(ctx context.Context) error {
	p.closed.Store(true)
	return waitGroup(ctx, &p.wg)
}

// BoundedWorkerPool runs at most Size units of work at once.
// Submit blocks while the pool is saturated.
type BoundedWorkerPool struct {
	size    int64
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	closed  atomic.Bool
	running atomic.Int64
	peak    atomic.Int64
}

// NewBoundedWorkerPool creates a BoundedWorkerPool with size slots. A size below 1 is raised to 1.
func NewBoundedWorkerPool(size int) *BoundedWorkerPool {
	if size < 1 {
		size = 1
	}
	return &BoundedWorkerPool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size returns the number of slots.
func (p *BoundedWorkerPool) Size() int { return int(p.size) }

// Peak returns the highest number of units observed running at once.
func (p *BoundedWorkerPool) Peak() int { return int(p.peak.Load()) }

func (p *BoundedWorkerPool) Submit(ctx context.Context, work Work) (*Future, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	f := newFuture()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		n := p.running.Add(1)
		for {
			peak := p.peak.Load()
			if n <= peak || p.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		defer p.running.Add(-1)
		f.run(ctx, work)
	}()
	return f, nil
}

func (p *BoundedWorkerPool) Join(ctx context.Context, f *Future) (any, error) {
	return join(ctx, f)
}

// Shutdown rejects new work and waits for running work to finish or ctx to end.
func (p *BoundedWorkerPool) Shutdown(ctx context.Context) error {
	p.closed.Store(true)
	return waitGroup(ctx, &p.wg)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates a pool by kind: "sync", "async" or "bounded".
func New(kind string, size int) (WorkerPool, error) {
	switch kind {
	case "", "sync":
		return NewSyncWorkerPool(), nil
	case "async":
		return NewAsyncWorkerPool(), nil
	case "bounded":
		return NewBoundedWorkerPool(size), nil
	default:
		return nil, fmt.Errorf("unknown worker pool type: %s", kind)
	}
}
