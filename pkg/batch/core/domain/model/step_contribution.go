package model

import "sync/atomic"

// StepContribution holds the counter deltas of one chunk. It is applied to the
// StepExecution when the chunk commits and discarded when it rolls back.
type StepContribution struct {
	StepExecution *StepExecution

	readCount  atomic.Int64
	writeCount atomic.Int64
}

// NewStepContribution creates an empty contribution for se.
func NewStepContribution(se *StepExecution) *StepContribution {
	return &StepContribution{StepExecution: se}
}

// IncrementReadCount records one item read.
func (c *StepContribution) IncrementReadCount() {
	c.readCount.Add(1)
}

// IncrementWriteCount records n items written.
func (c *StepContribution) IncrementWriteCount(n int) {
	c.writeCount.Add(int64(n))
}

// ReadCount returns the number of items read by the chunk.
func (c *StepContribution) ReadCount() int {
	return int(c.readCount.Load())
}

// WriteCount returns the number of items written by the chunk.
func (c *StepContribution) WriteCount() int {
	return int(c.writeCount.Load())
}

// IsEmpty reports whether the chunk neither read nor wrote anything.
func (c *StepContribution) IsEmpty() bool {
	return c.ReadCount() == 0 && c.WriteCount() == 0
}
