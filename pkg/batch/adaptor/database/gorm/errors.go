package gorm

import (
	"errors"
	"strings"
	"sync"

	"gorm.io/gorm"
)

// ErrorClassifier recognizes driver specific errors of one dialect.
type ErrorClassifier struct {
	TableNotExist func(err error) bool
	DuplicateKey  func(err error) bool
	// Retryable matches deadlocks, lock timeouts and serialization failures.
	Retryable func(err error) bool
}

var (
	classifiersMu sync.RWMutex
	classifiers   = map[string]ErrorClassifier{}
)

// RegisterErrorClassifier registers the classifier of a dialect.
func RegisterErrorClassifier(dbType string, c ErrorClassifier) {
	classifiersMu.Lock()
	defer classifiersMu.Unlock()
	classifiers[dbType] = c
}

func anyClassifier(match func(ErrorClassifier) func(error) bool, err error) bool {
	classifiersMu.RLock()
	defer classifiersMu.RUnlock()
	for _, c := range classifiers {
		if f := match(c); f != nil && f(err) {
			return true
		}
	}
	return false
}

// IsTableNotExistError reports whether err means that a table does not exist.
// Typed driver errors are checked first; the message patterns cover wrapped or translated errors.
func IsTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	if anyClassifier(func(c ErrorClassifier) func(error) bool { return c.TableNotExist }, err) {
		return true
	}
	msg := err.Error()
	return (strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist")) || // PostgreSQL
		(strings.Contains(msg, "Error 1146") && strings.Contains(msg, "doesn't exist")) || // MySQL
		strings.Contains(msg, "no such table:") // SQLite
}

// IsDuplicateKeyError reports whether err is a unique or primary key violation.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return anyClassifier(func(c ErrorClassifier) func(error) bool { return c.DuplicateKey }, err)
}

// IsRetryable reports whether err is a transient concurrency failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return anyClassifier(func(c ErrorClassifier) func(error) bool { return c.Retryable }, err)
}
