// Package config provides the configuration structures of the batch engine.
package config

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelTrace  LogLevel = "TRACE"
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// Executor kinds accepted by batch.executor.type.
const (
	ExecutorSync    = "sync"
	ExecutorAsync   = "async"
	ExecutorBounded = "bounded"
)

// Job repository kinds accepted by infrastructure.job_repository.type.
const (
	RepositoryInMemory = "inmemory"
	RepositorySQL      = "sql"
)

// ExecutorConfig selects how chunks of a step are dispatched.
type ExecutorConfig struct {
	// Type is one of sync, async or bounded.
	Type string `yaml:"type" validate:"oneof=sync async bounded"`
	// PoolSize bounds the bounded pool. Zero means the throttle limit.
	PoolSize int `yaml:"pool_size" validate:"gte=0"`
	// ThrottleLimit is the maximum number of chunks in flight for concurrent executors.
	ThrottleLimit int `yaml:"throttle_limit" validate:"gte=1"`
}

// BatchConfig holds configuration specific to the batch processing engine.
type BatchConfig struct {
	// JobName is the default job name if not specified elsewhere.
	JobName string `yaml:"job_name"`
	// ChunkSize is the default chunk size for chunk-oriented steps.
	ChunkSize int `yaml:"chunk_size" validate:"gt=0"`
	// WriteEmptyChunks makes writers see chunks that read no items.
	WriteEmptyChunks bool `yaml:"write_empty_chunks"`
	// IsolationLevel is the chunk transaction isolation level, e.g. READ_COMMITTED.
	IsolationLevel string `yaml:"isolation_level" validate:"omitempty,oneof=DEFAULT READ_UNCOMMITTED READ_COMMITTED WRITE_COMMITTED REPEATABLE_READ SERIALIZABLE"`
	Executor       ExecutorConfig `yaml:"executor"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG", "TRACE").
	Level string `yaml:"level" validate:"oneof=TRACE DEBUG INFO WARN ERROR FATAL SILENT"`
	// Console switches to human readable console output.
	Console bool `yaml:"console"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// JobRepositoryConfig selects the job repository backend.
type JobRepositoryConfig struct {
	Type string `yaml:"type" validate:"oneof=inmemory sql"`
	// DBRef is the name of the database section used by the SQL repository (e.g., "metadata").
	DBRef string `yaml:"db_ref" validate:"required_if=Type sql"`
	// Migrate applies the repository schema migrations on startup.
	Migrate bool `yaml:"migrate"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	JobRepository JobRepositoryConfig `yaml:"job_repository"`
}

// TelemetryConfig selects the metrics and tracing backends.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	// Metrics is one of none, prometheus or otel.
	Metrics string `yaml:"metrics" validate:"oneof=none prometheus otel"`
	// Tracing is one of none, otlp-grpc or otlp-http.
	Tracing string `yaml:"tracing" validate:"oneof=none otlp-grpc otlp-http"`
	// Endpoint is the OTLP collector endpoint (host:port).
	// An empty endpoint means the exporter default.
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// MetricsProtocol is the OTLP transport of the otel metrics exporter: grpc or http.
	MetricsProtocol string `yaml:"metrics_protocol" validate:"oneof=grpc http"`
	// MetricsAddr is the listen address of the Prometheus handler, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
	// AsyncBufferSize, when positive, records metrics on a background worker with a queue of this size.
	AsyncBufferSize int `yaml:"async_buffer_size" validate:"gte=0"`
}

// ChunkflowConfig holds all configuration under the "chunkflow" top-level key.
type ChunkflowConfig struct {
	Batch          BatchConfig          `yaml:"batch"`
	System         SystemConfig         `yaml:"system"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	// Datasources holds the raw database sections keyed by connection name.
	// They are decoded by the database adaptor.
	Datasources map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Chunkflow ChunkflowConfig `yaml:"chunkflow"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Chunkflow: ChunkflowConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo)},
			},
			Batch: BatchConfig{
				ChunkSize: 10,
				Executor: ExecutorConfig{
					Type:          ExecutorSync,
					ThrottleLimit: 4,
				},
			},
			Infrastructure: InfrastructureConfig{
				JobRepository: JobRepositoryConfig{
					Type:  RepositoryInMemory,
					DBRef: "metadata",
				},
			},
			Telemetry: TelemetryConfig{
				ServiceName:     "chunkflow",
				Metrics:         "none",
				Tracing:         "none",
				MetricsProtocol: "grpc",
			},
			Datasources: map[string]interface{}{},
		},
	}
}

// Datasource returns the raw properties of the database section name.
func (c *Config) Datasource(name string) (map[string]interface{}, bool) {
	raw, ok := c.Chunkflow.Datasources[name]
	if !ok {
		return nil, false
	}
	props, ok := raw.(map[string]interface{})
	return props, ok
}
