package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/telemetry"
)

func TestNewTracerProvider(t *testing.T) {
	ctx := context.Background()

	tp, err := telemetry.NewTracerProvider(ctx, config.TelemetryConfig{Tracing: "none"})
	require.NoError(t, err)
	assert.Nil(t, tp)

	for _, exporter := range []string{telemetry.TracingOTLPGRPC, telemetry.TracingOTLPHTTP} {
		tp, err := telemetry.NewTracerProvider(ctx, config.TelemetryConfig{
			ServiceName: "test",
			Tracing:     exporter,
			Endpoint:    "127.0.0.1:4317",
			Insecure:    true,
		})
		require.NoError(t, err, exporter)
		require.NotNil(t, tp)
		// Exporters connect lazily, so providers build without a collector.
		assert.NoError(t, tp.Shutdown(ctx))
	}

	_, err = telemetry.NewTracerProvider(ctx, config.TelemetryConfig{Tracing: "zipkin"})
	assert.Error(t, err)
}

func TestNewMeterProvider(t *testing.T) {
	ctx := context.Background()
	mp, err := telemetry.NewMeterProvider(ctx, config.TelemetryConfig{MetricsProtocol: "http", Endpoint: "127.0.0.1:4318", Insecure: true})
	require.NoError(t, err)
	require.NotNil(t, mp)
	_ = mp.Shutdown(ctx)

	_, err = telemetry.NewMeterProvider(ctx, config.TelemetryConfig{MetricsProtocol: "udp"})
	assert.Error(t, err)
}

func TestNewResource(t *testing.T) {
	res := telemetry.NewResource(config.TelemetryConfig{})
	value, ok := res.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "chunkflow", value.AsString())
}
