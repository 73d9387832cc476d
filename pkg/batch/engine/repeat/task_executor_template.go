package repeat

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/task"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultThrottleLimit is the number of iterations kept in flight when none is configured.
const DefaultThrottleLimit = 4

// TaskExecutorRepeatTemplate dispatches each iteration to a worker pool.
//
// At most ThrottleLimit iterations are in flight. Completed iterations are joined in
// completion order and only then counted by the policy, so a count policy can be
// overshot by up to ThrottleLimit-1 iterations. Once an iteration fails or returns
// Finished, nothing new is dispatched and the in-flight iterations drain before Iterate returns.
type TaskExecutorRepeatTemplate struct {
	policy        *CompletionPolicy
	pool          task.WorkerPool
	throttleLimit int
}

// NewTaskExecutorRepeatTemplate creates a concurrent template.
// A nil policy means DefaultCompletionPolicy.
func NewTaskExecutorRepeatTemplate(pool task.WorkerPool, throttleLimit int, policy *CompletionPolicy) (*TaskExecutorRepeatTemplate, error) {
	if pool == nil {
		return nil, exception.NewConfigurationError("repeat", "worker pool is required for concurrent repeat", nil)
	}
	if throttleLimit < 1 {
		return nil, exception.NewConfigurationError("repeat", fmt.Sprintf("throttle limit must be at least 1, got %d", throttleLimit), nil)
	}
	if policy == nil {
		policy = DefaultCompletionPolicy()
	}
	return &TaskExecutorRepeatTemplate{policy: policy, pool: pool, throttleLimit: throttleLimit}, nil
}

// ThrottleLimit returns the maximum number of iterations in flight.
func (t *TaskExecutorRepeatTemplate) ThrottleLimit() int { return t.throttleLimit }

type iterationOutcome struct {
	status model.RepeatStatus
	err    error
}

// Iterate implements RepeatOperations.
// If any iteration failed, the returned error is an *exception.ConcurrencyDrainError whose
// primary cause is the first failure joined.
func (t *TaskExecutorRepeatTemplate) Iterate(ctx context.Context, callback RepeatCallback) (model.RepeatStatus, error) {
	rc := t.policy.Start(FromContext(ctx))
	ctx = WithRepeatContext(ctx, rc)
	joinCtx := context.WithoutCancel(ctx)

	outcomes := make(chan iterationOutcome, t.throttleLimit)
	inFlight := 0
	dispatching := true
	finished := false

	work := func(c context.Context) (any, error) {
		return callback(c, rc)
	}

	for {
		for dispatching && inFlight < t.throttleLimit {
			if ctx.Err() != nil {
				rc.SetTerminateOnly()
			}
			if t.policy.IsComplete(rc) {
				dispatching = false
				break
			}
			f, err := t.pool.Submit(ctx, work)
			if err != nil {
				if ctx.Err() != nil {
					rc.SetTerminateOnly()
				} else {
					rc.RegisterError(err)
				}
				dispatching = false
				break
			}
			inFlight++
			go func(f *task.Future) {
				v, err := t.pool.Join(joinCtx, f)
				status, _ := v.(model.RepeatStatus)
				outcomes <- iterationOutcome{status: status, err: err}
			}(f)
		}

		if inFlight == 0 {
			break
		}

		o := <-outcomes
		inFlight--
		if o.err != nil {
			rc.RegisterError(o.err)
			if dispatching {
				logger.Debugf("Concurrent repeat: iteration failed, draining %d in-flight iterations: %v", inFlight, o.err)
			}
			dispatching = false
			continue
		}
		t.policy.Update(rc)
		if !o.status.IsContinuable() {
			finished = true
			dispatching = false
		} else if t.policy.IsCompleteWithResult(rc, o.status) {
			dispatching = false
		}
	}

	if errs := rc.Errors(); len(errs) > 0 {
		return model.RepeatStatusFinished, exception.NewConcurrencyDrainError(errs)
	}
	if finished {
		return model.RepeatStatusFinished, nil
	}
	return model.RepeatStatusContinuable, nil
}
