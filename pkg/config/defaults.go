package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 8080
	DefaultIdleTimeout         = 120 * time.Second
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultMaxRequestBodyBytes = int64(1 << 20)
	DefaultAdminPrefix         = "/_llmtap"

	// Upstream defaults
	DefaultUpstreamBaseURL     = "http://localhost:11434"
	DefaultDialTimeout         = 10 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 16
	DefaultIdleConnTimeout     = 90 * time.Second

	// Capture defaults
	DefaultCaptureDirectory  = "Data"
	DefaultCaptureQueueSize  = 256
	DefaultRetentionSchedule = "0 3 * * *"
	DefaultIndexFile         = "captures.db"

	// Decoder defaults
	DefaultDecoderMaxBufferBytes = 10 << 20

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "text"
	DefaultMetricsNamespace = "llmtap"
	DefaultMetricsPath      = DefaultAdminPrefix + "/metrics"
)

// DefaultRequestDurationBuckets covers short metadata calls up to long
// generations.
var DefaultRequestDurationBuckets = []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{RedactHeaders: true},
			Metrics: MetricsConfig{Enabled: true},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. Booleans are left as decoded;
// Default and Load seed their defaults before decoding.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxRequestBodyBytes == 0 {
		s.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	if s.AdminPrefix == "" {
		s.AdminPrefix = DefaultAdminPrefix
	}

	u := &cfg.Upstream
	if u.BaseURL == "" {
		u.BaseURL = DefaultUpstreamBaseURL
	}
	if u.DialTimeout == 0 {
		u.DialTimeout = DefaultDialTimeout
	}
	if u.MaxIdleConns == 0 {
		u.MaxIdleConns = DefaultMaxIdleConns
	}
	if u.MaxIdleConnsPerHost == 0 {
		u.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if u.IdleConnTimeout == 0 {
		u.IdleConnTimeout = DefaultIdleConnTimeout
	}

	c := &cfg.Capture
	if c.Directory == "" {
		c.Directory = DefaultCaptureDirectory
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultCaptureQueueSize
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = DefaultRetentionSchedule
	}

	if cfg.Decoder.MaxBufferBytes == 0 {
		cfg.Decoder.MaxBufferBytes = DefaultDecoderMaxBufferBytes
	}

	l := &cfg.Telemetry.Logging
	if l.Level == "" {
		l.Level = DefaultLoggingLevel
	}
	if l.Format == "" {
		l.Format = DefaultLoggingFormat
	}

	m := &cfg.Telemetry.Metrics
	if m.Path == "" {
		m.Path = DefaultMetricsPath
	}
	if m.Namespace == "" {
		m.Namespace = DefaultMetricsNamespace
	}
	if len(m.RequestDurationBuckets) == 0 {
		m.RequestDurationBuckets = append([]float64(nil), DefaultRequestDurationBuckets...)
	}
}

// ListenAddress returns host:port.
func (s ServerConfig) ListenAddress() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ResolvedIndexPath returns the SQLite index location.
func (c CaptureConfig) ResolvedIndexPath() string {
	if c.IndexPath != "" {
		return c.IndexPath
	}
	return filepath.Join(c.Directory, DefaultIndexFile)
}
