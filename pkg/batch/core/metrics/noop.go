package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder discards everything. It is the recorder when metrics are disabled.
type NoOpMetricRecorder struct{}

func NewNoOpMetricRecorder() MetricRecorder { return NoOpMetricRecorder{} }

func (NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution)   {}
func (NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution)     {}
func (NoOpMetricRecorder) RecordStepStart(context.Context, *model.StepExecution) {}
func (NoOpMetricRecorder) RecordStepEnd(context.Context, *model.StepExecution)   {}
func (NoOpMetricRecorder) RecordItemRead(context.Context, string, int)           {}
func (NoOpMetricRecorder) RecordItemWrite(context.Context, string, int)          {}
func (NoOpMetricRecorder) RecordChunkCommit(context.Context, string, int)        {}
func (NoOpMetricRecorder) RecordChunkRollback(context.Context, string)           {}

func (NoOpMetricRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {}

// NoOpTracer returns the context unchanged and records nothing.
type NoOpTracer struct{}

func NewNoOpTracer() Tracer { return NoOpTracer{} }

func (NoOpTracer) StartJobSpan(ctx context.Context, _ *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (NoOpTracer) StartStepSpan(ctx context.Context, _ *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (NoOpTracer) StartChunkSpan(ctx context.Context, _ *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

func (NoOpTracer) RecordError(context.Context, string, error) {}

func (NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var (
	_ MetricRecorder = NoOpMetricRecorder{}
	_ Tracer         = NoOpTracer{}
)
