// Package test provides mocks and factories shared by the package tests.
package test

import (
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// NewTestJobExecution creates a JobExecution for testing.
func NewTestJobExecution(jobName string) *model.JobExecution {
	return model.NewJobExecution(jobName)
}
