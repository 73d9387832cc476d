package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Chunkflow.System.Logging
}

// NewBatchConfigProvider extracts and provides *BatchConfig from *Config.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.Chunkflow.Batch
}

// NewTelemetryConfigProvider extracts and provides *TelemetryConfig from *Config.
func NewTelemetryConfigProvider(cfg *Config) *TelemetryConfig {
	return &cfg.Chunkflow.Telemetry
}

// SectionsModule provides the sections of an available *Config.
var SectionsModule = fx.Provide(
	NewLoggingConfigProvider,
	NewBatchConfigProvider,
	NewTelemetryConfigProvider,
)

// Module loads *Config from the supplied EmbeddedConfig and provides it with its sections.
var Module = fx.Options(
	fx.Provide(
		func() EnvironmentExpander { return NewOsEnvironmentExpander() },
		NewConfigProvider,
	),
	SectionsModule,
)
