package model

// BatchStatus represents the state of a job or step execution.
type BatchStatus string

const (
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusStarted   BatchStatus = "STARTED"
	BatchStatusStopping  BatchStatus = "STOPPING"
	BatchStatusStopped   BatchStatus = "STOPPED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusAbandoned BatchStatus = "ABANDONED"
	BatchStatusUnknown   BatchStatus = "UNKNOWN"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished checks if the BatchStatus represents a terminal state.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// ToExitStatus converts the BatchStatus to its corresponding ExitStatus.
func (s BatchStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus represents the detailed status upon job/step completion.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	ExitStatusNoOp      ExitStatus = "NO_OP"
)

// String returns the ExitStatus as a string.
func (s ExitStatus) String() string {
	return string(s)
}

// RepeatStatus is the result of one iteration of a repeat loop or one tasklet invocation.
type RepeatStatus int

const (
	// RepeatStatusContinuable means more work may remain.
	RepeatStatusContinuable RepeatStatus = iota
	// RepeatStatusFinished means the callback has no more work.
	RepeatStatusFinished
)

// IsContinuable reports whether the status allows another iteration.
func (s RepeatStatus) IsContinuable() bool {
	return s == RepeatStatusContinuable
}

// And combines two statuses; the result is continuable only if both are.
func (s RepeatStatus) And(continuable bool) RepeatStatus {
	if s.IsContinuable() && continuable {
		return RepeatStatusContinuable
	}
	return RepeatStatusFinished
}

func (s RepeatStatus) String() string {
	if s == RepeatStatusContinuable {
		return "CONTINUABLE"
	}
	return "FINISHED"
}
