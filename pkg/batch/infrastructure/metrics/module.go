package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/tigerroll/chunkflow/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/telemetry"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Metrics backends accepted by telemetry.metrics.
const (
	BackendNone       = "none"
	BackendPrometheus = "prometheus"
	BackendOtel       = "otel"
)

// Params defines the dependencies of the metric recorder and tracer providers.
type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

// NewMetricRecorder selects the recorder named by telemetry.metrics.
// With prometheus and a metrics_addr, the registry is served on /metrics.
func NewMetricRecorder(p Params) (metrics.MetricRecorder, error) {
	cfg := p.Config.Chunkflow.Telemetry
	switch cfg.Metrics {
	case "", BackendNone:
		return metrics.NewNoOpMetricRecorder(), nil
	case BackendPrometheus:
		r := NewPrometheusRecorder()
		if cfg.MetricsAddr != "" {
			serveRegistry(p.Lifecycle, cfg.MetricsAddr, r)
		}
		return r, nil
	case BackendOtel:
		mp, err := telemetry.NewMeterProvider(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.StopHook(mp.Shutdown))
		return NewOtelMetricRecorder(mp)
	default:
		return nil, fmt.Errorf("unsupported metrics backend: %s", cfg.Metrics)
	}
}

// NewTracer returns an OpenTelemetry tracer when tracing is enabled, otherwise a no-op.
func NewTracer(p Params) (metrics.Tracer, error) {
	tp, err := telemetry.NewTracerProvider(context.Background(), p.Config.Chunkflow.Telemetry)
	if err != nil {
		return nil, err
	}
	if tp == nil {
		return metrics.NewNoOpTracer(), nil
	}
	p.Lifecycle.Append(fx.StopHook(tp.Shutdown))
	return NewOpenTelemetryTracer(tp), nil
}

func serveRegistry(lc fx.Lifecycle, addr string, r *PrometheusRecorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics endpoint on %s stopped: %v", addr, err)
				}
			}()
			logger.Infof("Serving Prometheus metrics on %s/metrics", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})
}

// Module provides metrics.MetricRecorder and metrics.Tracer according to the telemetry configuration.
var Module = fx.Options(
	fx.Provide(NewMetricRecorder, NewTracer),
)
