package tx

import "sync"

// Synchronizations collects after-commit callbacks for one transaction.
// Transaction implementations embed it to satisfy Synchronizer.
type Synchronizations struct {
	mu        sync.Mutex
	callbacks []func()
}

// AfterCommit registers fn to run after the transaction commits.
func (s *Synchronizations) AfterCommit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// TriggerAfterCommit runs the registered callbacks in registration order and clears them.
func (s *Synchronizations) TriggerAfterCommit() {
	s.mu.Lock()
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// Clear drops the registered callbacks. It is called on rollback.
func (s *Synchronizations) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = nil
}
