package repeat

import (
	"fmt"
	"strings"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// PolicyKind selects the completion rule of a CompletionPolicy.
type PolicyKind int

const (
	// PolicyUnbounded completes only when the callback finishes or the context is marked complete.
	PolicyUnbounded PolicyKind = iota
	// PolicyCount completes after a fixed number of iterations.
	PolicyCount
	// PolicyTime completes once a duration has elapsed since the context started.
	PolicyTime
	// PolicyComposite completes as soon as any child policy completes.
	PolicyComposite
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyCount:
		return "count"
	case PolicyTime:
		return "time"
	case PolicyComposite:
		return "composite"
	default:
		return "unbounded"
	}
}

// CompletionPolicy decides when a repeat run is complete.
// It is a closed set of variants evaluated by recursion over composite children.
type CompletionPolicy struct {
	kind     PolicyKind
	count    int
	timeout  time.Duration
	children []*CompletionPolicy
}

// DefaultCompletionPolicy returns the unbounded policy.
func DefaultCompletionPolicy() *CompletionPolicy {
	return &CompletionPolicy{kind: PolicyUnbounded}
}

// NewCountCompletionPolicy completes after n iterations. n must be positive.
func NewCountCompletionPolicy(n int) (*CompletionPolicy, error) {
	if n <= 0 {
		return nil, exception.NewConfigurationError("repeat", fmt.Sprintf("chunk size must be greater than zero, got %d", n), nil)
	}
	return &CompletionPolicy{kind: PolicyCount, count: n}, nil
}

// NewTimeoutCompletionPolicy completes once d has elapsed since Start. d must be positive.
func NewTimeoutCompletionPolicy(d time.Duration) (*CompletionPolicy, error) {
	if d <= 0 {
		return nil, exception.NewConfigurationError("repeat", fmt.Sprintf("timeout must be greater than zero, got %s", d), nil)
	}
	return &CompletionPolicy{kind: PolicyTime, timeout: d}, nil
}

// NewCompositeCompletionPolicy completes when any of policies completes.
// At least one non-nil child is required.
func NewCompositeCompletionPolicy(policies ...*CompletionPolicy) (*CompletionPolicy, error) {
	if len(policies) == 0 {
		return nil, exception.NewConfigurationError("repeat", "composite completion policy requires at least one child", nil)
	}
	for i, p := range policies {
		if p == nil {
			return nil, exception.NewConfigurationError("repeat", fmt.Sprintf("composite completion policy child %d is nil", i), nil)
		}
	}
	return &CompletionPolicy{kind: PolicyComposite, children: append([]*CompletionPolicy(nil), policies...)}, nil
}

// Kind returns the variant of the policy.
func (p *CompletionPolicy) Kind() PolicyKind { return p.kind }

// Start creates the context for a new run nested in parent.
func (p *CompletionPolicy) Start(parent *RepeatContext) *RepeatContext {
	return NewRepeatContext(parent)
}

// Update records one completed iteration on rc.
func (p *CompletionPolicy) Update(rc *RepeatContext) {
	rc.Increment()
}

// IsComplete evaluates the policy against the iterations completed so far.
func (p *CompletionPolicy) IsComplete(rc *RepeatContext) bool {
	if rc.IsCompleteOnly() || rc.IsTerminateOnly() {
		return true
	}
	return p.evaluate(rc)
}

func (p *CompletionPolicy) evaluate(rc *RepeatContext) bool {
	switch p.kind {
	case PolicyCount:
		return rc.StartedCount() >= p.count
	case PolicyTime:
		return time.Since(rc.StartTime()) >= p.timeout
	case PolicyComposite:
		for _, child := range p.children {
			if child.evaluate(rc) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// IsCompleteWithResult is IsComplete, and also true when the iteration returned Finished.
func (p *CompletionPolicy) IsCompleteWithResult(rc *RepeatContext, status model.RepeatStatus) bool {
	if !status.IsContinuable() {
		return true
	}
	return p.IsComplete(rc)
}

func (p *CompletionPolicy) String() string {
	switch p.kind {
	case PolicyCount:
		return fmt.Sprintf("count(%d)", p.count)
	case PolicyTime:
		return fmt.Sprintf("time(%s)", p.timeout)
	case PolicyComposite:
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			parts[i] = c.String()
		}
		return "composite(" + strings.Join(parts, ",") + ")"
	default:
		return "unbounded"
	}
}
