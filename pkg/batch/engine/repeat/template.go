package repeat

import (
	"context"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// RepeatCallback is one iteration of a repeat run.
type RepeatCallback func(ctx context.Context, rc *RepeatContext) (model.RepeatStatus, error)

// RepeatOperations runs a callback repeatedly.
type RepeatOperations interface {
	// Iterate runs callback until the policy completes, the callback returns Finished,
	// or an error ends the run. It returns Finished only when the callback signalled
	// that there is no more work.
	Iterate(ctx context.Context, callback RepeatCallback) (model.RepeatStatus, error)
}

// RepeatTemplate runs iterations one after another on the calling goroutine.
type RepeatTemplate struct {
	policy *CompletionPolicy
}

// NewRepeatTemplate creates a RepeatTemplate. A nil policy means DefaultCompletionPolicy.
func NewRepeatTemplate(policy *CompletionPolicy) *RepeatTemplate {
	if policy == nil {
		policy = DefaultCompletionPolicy()
	}
	return &RepeatTemplate{policy: policy}
}

// CompletionPolicy returns the policy bound to the template.
func (t *RepeatTemplate) CompletionPolicy() *CompletionPolicy { return t.policy }

// Iterate implements RepeatOperations.
func (t *RepeatTemplate) Iterate(ctx context.Context, callback RepeatCallback) (model.RepeatStatus, error) {
	rc := t.policy.Start(FromContext(ctx))
	ctx = WithRepeatContext(ctx, rc)

	for {
		if ctx.Err() != nil {
			rc.SetTerminateOnly()
		}
		if t.policy.IsComplete(rc) {
			return model.RepeatStatusContinuable, nil
		}

		status, err := callback(ctx, rc)
		if err != nil {
			rc.RegisterError(err)
			logger.Debugf("Repeat iteration %d failed: %v", rc.StartedCount()+1, err)
			return model.RepeatStatusFinished, err
		}
		t.policy.Update(rc)

		if !status.IsContinuable() {
			return model.RepeatStatusFinished, nil
		}
		if t.policy.IsCompleteWithResult(rc, status) {
			return model.RepeatStatusContinuable, nil
		}
	}
}
