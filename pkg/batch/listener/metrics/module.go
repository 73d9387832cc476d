package metrics

import "go.uber.org/fx"

// Module decorates the provided metrics.MetricRecorder with the asynchronous wrapper when configured.
var Module = fx.Options(
	fx.Decorate(NewAsyncMetricRecorderWrapper),
)
