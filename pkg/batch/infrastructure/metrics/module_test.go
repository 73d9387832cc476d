package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
	coremetrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
)

func TestNewMetricRecorder_SelectsBackend(t *testing.T) {
	cases := []struct {
		backend string
		want    interface{}
	}{
		{metrics.BackendNone, coremetrics.NoOpMetricRecorder{}},
		{metrics.BackendPrometheus, &metrics.PrometheusRecorder{}},
		{metrics.BackendOtel, &metrics.OtelMetricRecorder{}},
	}
	for _, tc := range cases {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.Chunkflow.Telemetry.Metrics = tc.backend
			lc := fxtest.NewLifecycle(t)

			r, err := metrics.NewMetricRecorder(metrics.Params{Lifecycle: lc, Config: cfg})
			require.NoError(t, err)
			assert.IsType(t, tc.want, r)
		})
	}
}

func TestNewMetricRecorder_UnknownBackend(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Chunkflow.Telemetry.Metrics = "statsd"
	_, err := metrics.NewMetricRecorder(metrics.Params{Lifecycle: fxtest.NewLifecycle(t), Config: cfg})
	assert.ErrorContains(t, err, "unsupported metrics backend")
}

func TestNewTracer_NoneIsNoOp(t *testing.T) {
	tracer, err := metrics.NewTracer(metrics.Params{Lifecycle: fxtest.NewLifecycle(t), Config: config.NewConfig()})
	require.NoError(t, err)
	assert.IsType(t, coremetrics.NoOpTracer{}, tracer)
}
