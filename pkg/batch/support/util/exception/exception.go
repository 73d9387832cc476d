// Package exception provides the error types shared by the Chunkflow engine.
// Every error raised by the framework is either a BatchError or wraps one, so callers can
// classify it with errors.As and look up well-known causes by name in the error registry.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// errorRegistry maps error names to sentinel instances used for errors.Is comparison.
var errorRegistry = make(map[string]error)

var registryMutex sync.RWMutex

// RegisterErrorType registers a sentinel error under a name so it can be referenced by that name.
//
// Parameters:
//
//	name: A unique identifier for the error type.
//	prototype: The sentinel instance compared with errors.Is.
//
// It panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered checks if the specified error type name is registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// LookupErrorType returns the sentinel registered under name.
func LookupErrorType(name string) (error, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	err, ok := errorRegistry[name]
	return err, ok
}

// BatchError is the base error of the framework.
// It holds the module where the error occurred, a message, the wrapped cause,
// and flags telling an external retry or skip layer how the error may be treated.
type BatchError struct {
	// Module indicates where the error occurred (e.g., "reader", "writer", "repeat", "config").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	isRetryable bool
	isSkippable bool
	// StackTrace is the stack trace captured at construction.
	StackTrace string
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewBatchError creates a new BatchError instance.
//
// Parameters:
//
//	module: The module where the error occurred.
//	message: The error message.
//	originalErr: The cause to wrap, may be nil.
//	isSkippable: Whether an external skip policy may skip this error.
//	isRetryable: Whether an external retry policy may retry this error.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a BatchError with a formatted message.
// A trailing error argument is taken as the cause instead of being formatted.
//
//	NewBatchErrorf("repository", "StepExecution '%s' not found", id, ErrStepExecutionNotFound)
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var cause error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok {
			cause = err
			a = a[:len(a)-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, a...), cause, false, false)
}

// Error renders the error as "[module] message: cause".
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError reports whether err is, or wraps, a BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsErrorOfType checks if an error matches a named type.
// errorTypeName may be a registered sentinel name, a Go type name (e.g., "*exception.WriteError")
// or a substring of an error message. The whole chain, including joined errors, is searched.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	if target, ok := LookupErrorType(errorTypeName); ok && errors.Is(err, target) {
		return true
	}

	var walk func(e error) bool
	walk = func(e error) bool {
		for e != nil {
			if strings.Contains(e.Error(), errorTypeName) {
				return true
			}
			if t := reflect.TypeOf(e); t != nil {
				if t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName) {
					return true
				}
			}
			if multi, ok := e.(interface{ Unwrap() []error }); ok {
				for _, inner := range multi.Unwrap() {
					if walk(inner) {
						return true
					}
				}
				return false
			}
			e = errors.Unwrap(e)
		}
		return false
	}
	return walk(err)
}

// ExtractErrorMessage returns the Message of the outermost BatchError in the chain,
// or err.Error() when there is none.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType("io.EOF", io.EOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType("sql.ErrTxDone", sql.ErrTxDone)
}
