package config

import "time"

// Config is the root configuration structure for llmtap.
type Config struct {
	// Server contains the listener configuration of the proxy.
	Server ServerConfig `yaml:"server"`

	// Upstream describes the inference server requests are forwarded to.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Capture controls persistence of recorded exchanges.
	Capture CaptureConfig `yaml:"capture"`

	// Decoder controls incremental framing of streamed bodies.
	Decoder DecoderConfig `yaml:"decoder"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP listener.
type ServerConfig struct {
	// Host is the interface to bind.
	// Default: "127.0.0.1"
	Host string `yaml:"host"`

	// Port is the TCP port to bind.
	// Default: 8080
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Zero means no timeout.
	// Default: 0
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds the whole response. Streams can run for minutes,
	// so the default is no timeout.
	// Default: 0
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxRequestBodyBytes rejects larger request bodies with 413.
	// Default: 1048576 (1 MiB)
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// AdminPrefix is the path prefix reserved for llmtap's own endpoints.
	// Requests under it are not forwarded.
	// Default: "/_llmtap"
	AdminPrefix string `yaml:"admin_prefix"`
}

// UpstreamConfig contains the upstream connection settings.
type UpstreamConfig struct {
	// BaseURL is joined with every incoming path and query.
	// Default: "http://localhost:11434"
	BaseURL string `yaml:"base_url"`

	// DialTimeout bounds connection establishment.
	// Default: 10s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ResponseHeaderTimeout bounds the wait for the response head.
	// Model loading can take long, so the default is no timeout.
	// Default: 0
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`

	// MaxIdleConns is the size of the idle connection pool.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MaxIdleConnsPerHost bounds idle connections to the upstream.
	// Default: 16
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// IdleConnTimeout closes idle pooled connections.
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// CaptureConfig controls where and how captures are stored.
type CaptureConfig struct {
	// Enabled turns on persistence of every exchange.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Directory receives capture documents and raw dumps.
	// Default: "Data"
	Directory string `yaml:"directory"`

	// RawDumps additionally writes the raw request and response bodies.
	// Default: false
	RawDumps bool `yaml:"raw_dumps"`

	// IndexPath is the SQLite capture index. Empty means
	// "<directory>/captures.db".
	IndexPath string `yaml:"index_path"`

	// QueueSize is the number of captures buffered for the writer.
	// Captures submitted to a full queue are dropped.
	// Default: 256
	QueueSize int `yaml:"queue_size"`

	// Retention prunes old captures.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig controls capture pruning.
type RetentionConfig struct {
	// Days removes captures older than this many days. Zero keeps all.
	// Default: 0
	Days int `yaml:"days"`

	// MaxCaptures keeps at most this many captures. Zero means no limit.
	// Default: 0
	MaxCaptures int `yaml:"max_captures"`

	// Schedule is the cron expression of the pruning job.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`
}

// Enabled reports whether any retention rule is set.
func (r RetentionConfig) Enabled() bool {
	return r.Days > 0 || r.MaxCaptures > 0
}

// DecoderConfig controls body framing.
type DecoderConfig struct {
	// MaxBufferBytes discards buffered bytes that never reach a frame
	// boundary.
	// Default: 10485760 (10 MiB)
	MaxBufferBytes int `yaml:"max_buffer_bytes"`
}

// TelemetryConfig groups observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "text" or "json".
	// Default: "text"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactHeaders masks credential headers and tokens in logs. Captures
	// always keep the original values.
	// Default: true
	RedactHeaders bool `yaml:"redact_headers"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and exposed.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path of the metrics endpoint.
	// Default: "/_llmtap/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "llmtap"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets are histogram buckets in seconds.
	// Default: [0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}
