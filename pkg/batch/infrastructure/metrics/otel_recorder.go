package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// InstrumentationName is the meter and tracer name used by the engine.
const InstrumentationName = "github.com/tigerroll/chunkflow/pkg/batch"

// OtelMetricRecorder implements metrics.MetricRecorder with OpenTelemetry instruments.
type OtelMetricRecorder struct {
	jobs          otelmetric.Int64Counter
	steps         otelmetric.Int64Counter
	itemsRead     otelmetric.Int64Counter
	itemsWritten  otelmetric.Int64Counter
	commits       otelmetric.Int64Counter
	rollbacks     otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	stepDuration  otelmetric.Float64Histogram
	operationTime otelmetric.Float64Histogram
}

// NewOtelMetricRecorder creates the instruments on a meter of provider.
func NewOtelMetricRecorder(provider otelmetric.MeterProvider) (*OtelMetricRecorder, error) {
	meter := provider.Meter(InstrumentationName)
	r := &OtelMetricRecorder{}
	var err error

	if r.jobs, err = meter.Int64Counter("batch.job.executions", otelmetric.WithDescription("Job executions by status.")); err != nil {
		return nil, err
	}
	if r.steps, err = meter.Int64Counter("batch.step.executions", otelmetric.WithDescription("Step executions by status.")); err != nil {
		return nil, err
	}
	if r.itemsRead, err = meter.Int64Counter("batch.step.items.read", otelmetric.WithDescription("Items read by committed chunks.")); err != nil {
		return nil, err
	}
	if r.itemsWritten, err = meter.Int64Counter("batch.step.items.written", otelmetric.WithDescription("Items written by committed chunks.")); err != nil {
		return nil, err
	}
	if r.commits, err = meter.Int64Counter("batch.step.commits", otelmetric.WithDescription("Committed chunks.")); err != nil {
		return nil, err
	}
	if r.rollbacks, err = meter.Int64Counter("batch.step.rollbacks", otelmetric.WithDescription("Rolled back chunks.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = meter.Float64Histogram("batch.job.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.stepDuration, err = meter.Float64Histogram("batch.step.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.operationTime, err = meter.Float64Histogram("batch.operation.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OtelMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobs.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job.name", execution.JobName),
		attribute.String("status", model.BatchStatusStarted.String()),
	))
}

func (r *OtelMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	snap := execution.Clone()
	attrs := otelmetric.WithAttributes(
		attribute.String("job.name", snap.JobName),
		attribute.String("status", snap.Status.String()),
	)
	r.jobs.Add(ctx, 1, attrs)
	if snap.EndTime != nil {
		r.jobDuration.Record(ctx, snap.EndTime.Sub(snap.StartTime).Seconds(), attrs)
	}
}

func (r *OtelMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.steps.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job.name", stepJobName(execution)),
		attribute.String("step.name", execution.StepName),
		attribute.String("status", model.BatchStatusStarted.String()),
	))
}

func (r *OtelMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	snap := execution.Clone()
	attrs := otelmetric.WithAttributes(
		attribute.String("job.name", stepJobName(snap)),
		attribute.String("step.name", snap.StepName),
		attribute.String("status", snap.Status.String()),
	)
	r.steps.Add(ctx, 1, attrs)
	if snap.EndTime != nil {
		r.stepDuration.Record(ctx, snap.EndTime.Sub(snap.StartTime).Seconds(), attrs)
	}
	logger.Debugf("Metrics: Step '%s' ended (otel).", snap.StepName)
}

func (r *OtelMetricRecorder) stepAttrs(ctx context.Context, stepName string) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(
		attribute.String("job.name", jobNameOf(ctx)),
		attribute.String("step.name", stepName),
	)
}

func (r *OtelMetricRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.itemsRead.Add(ctx, int64(count), r.stepAttrs(ctx, stepName))
}

func (r *OtelMetricRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemsWritten.Add(ctx, int64(count), r.stepAttrs(ctx, stepName))
}

func (r *OtelMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.commits.Add(ctx, 1, r.stepAttrs(ctx, stepName))
}

func (r *OtelMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.rollbacks.Add(ctx, 1, r.stepAttrs(ctx, stepName))
}

// RecordDuration records duration with every tag as an attribute.
func (r *OtelMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operationTime.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OtelMetricRecorder)(nil)
