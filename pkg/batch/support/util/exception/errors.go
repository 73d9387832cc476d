package exception

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ConfigurationError reports invalid policy or step parameters. It is raised at construction
// time and is never retried.
type ConfigurationError struct {
	*BatchError
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(module, message string, cause error) *ConfigurationError {
	return &ConfigurationError{BatchError: NewBatchError(module, message, cause, false, false)}
}

// Unwrap exposes the embedded BatchError so errors.As can match both types.
func (e *ConfigurationError) Unwrap() error { return e.BatchError }

// ReadError reports an item source failure in the middle of a chunk.
type ReadError struct {
	*BatchError
	// ItemIndex is the zero-based position inside the chunk at which the read failed.
	ItemIndex int
}

// NewReadError creates a ReadError wrapping the source failure.
func NewReadError(module string, itemIndex int, cause error) *ReadError {
	return &ReadError{
		BatchError: NewBatchError(module, fmt.Sprintf("failed to read item %d of chunk", itemIndex), cause, false, false),
		ItemIndex:  itemIndex,
	}
}

func (e *ReadError) Unwrap() error { return e.BatchError }

// WriteError reports an item sink failure. It aborts the enclosing transaction.
type WriteError struct {
	*BatchError
	// ItemCount is the size of the chunk that failed to write.
	ItemCount int
}

// NewWriteError creates a WriteError wrapping the sink failure.
func NewWriteError(module string, itemCount int, cause error) *WriteError {
	return &WriteError{
		BatchError: NewBatchError(module, fmt.Sprintf("failed to write chunk of %d items", itemCount), cause, false, false),
		ItemCount:  itemCount,
	}
}

func (e *WriteError) Unwrap() error { return e.BatchError }

// ConcurrencyDrainError is returned by a concurrent repeat run after every dispatched
// iteration has drained and at least one of them failed.
// Primary is the first failure observed; later failures are kept as suppressed causes.
type ConcurrencyDrainError struct {
	Primary    error
	Suppressed *multierror.Error
}

// NewConcurrencyDrainError builds a ConcurrencyDrainError from failures in observation order.
// It returns nil for an empty slice.
func NewConcurrencyDrainError(errs []error) *ConcurrencyDrainError {
	if len(errs) == 0 {
		return nil
	}
	e := &ConcurrencyDrainError{Primary: errs[0]}
	for _, err := range errs[1:] {
		e.Suppressed = multierror.Append(e.Suppressed, err)
	}
	return e
}

// SuppressedErrors returns the failures recorded after the primary one.
func (e *ConcurrencyDrainError) SuppressedErrors() []error {
	if e.Suppressed == nil {
		return nil
	}
	return e.Suppressed.WrappedErrors()
}

func (e *ConcurrencyDrainError) Error() string {
	suppressed := e.SuppressedErrors()
	if len(suppressed) == 0 {
		return fmt.Sprintf("[repeat] concurrent iteration failed: %v", e.Primary)
	}
	return fmt.Sprintf("[repeat] concurrent iteration failed: %v (%d suppressed)", e.Primary, len(suppressed))
}

// Unwrap returns the primary cause followed by every suppressed cause.
func (e *ConcurrencyDrainError) Unwrap() []error {
	return append([]error{e.Primary}, e.SuppressedErrors()...)
}
