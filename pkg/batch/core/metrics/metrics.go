// Package metrics defines the observability ports of the engine: a MetricRecorder for counters and
// durations, and a Tracer for spans. Backends live in the infrastructure layer.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// MetricRecorder records job, step and chunk metrics.
//
// Implementations must be safe for concurrent use, since chunks of one step may commit
// from several goroutines.
type MetricRecorder interface {
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	// RecordStepEnd records the end of a StepExecution, including its final status.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordItemRead records count items read by a committed chunk.
	RecordItemRead(ctx context.Context, stepName string, count int)
	// RecordItemWrite records count items written by a committed chunk.
	RecordItemWrite(ctx context.Context, stepName string, count int)
	// RecordChunkCommit records one committed chunk of count items.
	RecordChunkCommit(ctx context.Context, stepName string, count int)
	RecordChunkRollback(ctx context.Context, stepName string)

	// RecordDuration records the duration of a named operation, e.g. "step.execution" with
	// tags {"step_name": "numbers", "status": "COMPLETED"}.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

// Tracer opens spans around jobs, steps and chunk transactions. Each Start method returns a
// context carrying the span and a function that ends it.
type Tracer interface {
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	StartChunkSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())

	// RecordError records err on the current span. module names the failing component,
	// e.g. "reader" or a step name.
	RecordError(ctx context.Context, module string, err error)
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
