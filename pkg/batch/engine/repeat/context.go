// Package repeat provides the bounded-iteration engine used for both the chunk loop and the step loop.
//
// A RepeatOperations implementation calls a RepeatCallback until the CompletionPolicy reports
// completion, the callback returns model.RepeatStatusFinished, or an error ends the run.
// RepeatTemplate runs the callback on the calling goroutine; TaskExecutorRepeatTemplate
// dispatches each iteration to a task.WorkerPool.
package repeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RepeatContext holds the state of one repeat run. Contexts nest: the chunk-level
// context started inside a step iteration has the step-level context as its parent.
type RepeatContext struct {
	parent    *RepeatContext
	startTime time.Time

	mu     sync.Mutex
	count  int
	errors []error
	attrs  map[string]any

	completeOnly  atomic.Bool
	terminateOnly atomic.Bool
}

// NewRepeatContext creates a context started now.
func NewRepeatContext(parent *RepeatContext) *RepeatContext {
	return &RepeatContext{parent: parent, startTime: time.Now()}
}

// Parent returns the enclosing context, or nil at the top level.
func (rc *RepeatContext) Parent() *RepeatContext { return rc.parent }

// StartTime returns the time the context was started.
func (rc *RepeatContext) StartTime() time.Time { return rc.startTime }

// StartedCount returns the number of completed iterations recorded with Increment.
func (rc *RepeatContext) StartedCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.count
}

// Increment records one completed iteration.
func (rc *RepeatContext) Increment() {
	rc.mu.Lock()
	rc.count++
	rc.mu.Unlock()
}

// SetCompleteOnly asks the loop to finish normally after the current iteration.
func (rc *RepeatContext) SetCompleteOnly() { rc.completeOnly.Store(true) }

// IsCompleteOnly reports whether SetCompleteOnly was called.
func (rc *RepeatContext) IsCompleteOnly() bool { return rc.completeOnly.Load() }

// SetTerminateOnly asks the loop to stop dispatching iterations.
func (rc *RepeatContext) SetTerminateOnly() { rc.terminateOnly.Store(true) }

// IsTerminateOnly reports whether SetTerminateOnly was called.
func (rc *RepeatContext) IsTerminateOnly() bool { return rc.terminateOnly.Load() }

// RegisterError records a failed iteration.
func (rc *RepeatContext) RegisterError(err error) {
	rc.mu.Lock()
	rc.errors = append(rc.errors, err)
	rc.mu.Unlock()
}

// Errors returns the recorded failures in observation order.
func (rc *RepeatContext) Errors() []error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]error(nil), rc.errors...)
}

// SetAttribute stores a value on the context.
func (rc *RepeatContext) SetAttribute(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.attrs == nil {
		rc.attrs = make(map[string]any)
	}
	rc.attrs[key] = value
}

// Attribute returns a value stored with SetAttribute.
func (rc *RepeatContext) Attribute(key string) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.attrs[key]
	return v, ok
}

type repeatContextKey struct{}

// WithRepeatContext returns a copy of ctx carrying rc.
func WithRepeatContext(ctx context.Context, rc *RepeatContext) context.Context {
	return context.WithValue(ctx, repeatContextKey{}, rc)
}

// FromContext returns the innermost RepeatContext carried by ctx, or nil.
func FromContext(ctx context.Context) *RepeatContext {
	rc, _ := ctx.Value(repeatContextKey{}).(*RepeatContext)
	return rc
}
