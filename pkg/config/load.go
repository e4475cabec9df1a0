package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// LLMTAP_UPSTREAM_BASE_URL.
const EnvPrefix = "LLMTAP_"

// LoadConfig loads configuration from a YAML file, applies defaults and
// validates the result. An empty path or a missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
			}
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration like LoadConfig and then
// applies environment overrides. The legacy variables HOST, PORT,
// UPSTREAM_URL, PERSIST and MAX_BODY_SIZE are applied first, so the
// prefixed LLMTAP_ variables win over them.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// envSetter applies one variable's value to the configuration.
type envSetter struct {
	name string
	set  func(*Config, string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = i
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func durationVar(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func sizeVar(dst func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := ParseSize(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

var legacyEnv = []envSetter{
	{"HOST", stringVar(func(c *Config) *string { return &c.Server.Host })},
	{"PORT", intVar(func(c *Config) *int { return &c.Server.Port })},
	{"UPSTREAM_URL", stringVar(func(c *Config) *string { return &c.Upstream.BaseURL })},
	{"PERSIST", boolVar(func(c *Config) *bool { return &c.Capture.Enabled })},
	{"MAX_BODY_SIZE", sizeVar(func(c *Config) *int64 { return &c.Server.MaxRequestBodyBytes })},
}

var prefixedEnv = []envSetter{
	// Server
	{"SERVER_HOST", stringVar(func(c *Config) *string { return &c.Server.Host })},
	{"SERVER_PORT", intVar(func(c *Config) *int { return &c.Server.Port })},
	{"SERVER_READ_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.ReadTimeout })},
	{"SERVER_WRITE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.WriteTimeout })},
	{"SERVER_IDLE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.IdleTimeout })},
	{"SERVER_SHUTDOWN_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
	{"SERVER_MAX_REQUEST_BODY_BYTES", sizeVar(func(c *Config) *int64 { return &c.Server.MaxRequestBodyBytes })},
	{"SERVER_ADMIN_PREFIX", stringVar(func(c *Config) *string { return &c.Server.AdminPrefix })},

	// Upstream
	{"UPSTREAM_BASE_URL", stringVar(func(c *Config) *string { return &c.Upstream.BaseURL })},
	{"UPSTREAM_DIAL_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Upstream.DialTimeout })},
	{"UPSTREAM_RESPONSE_HEADER_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Upstream.ResponseHeaderTimeout })},
	{"UPSTREAM_MAX_IDLE_CONNS", intVar(func(c *Config) *int { return &c.Upstream.MaxIdleConns })},
	{"UPSTREAM_MAX_IDLE_CONNS_PER_HOST", intVar(func(c *Config) *int { return &c.Upstream.MaxIdleConnsPerHost })},
	{"UPSTREAM_IDLE_CONN_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Upstream.IdleConnTimeout })},

	// Capture
	{"CAPTURE_ENABLED", boolVar(func(c *Config) *bool { return &c.Capture.Enabled })},
	{"CAPTURE_DIRECTORY", stringVar(func(c *Config) *string { return &c.Capture.Directory })},
	{"CAPTURE_RAW_DUMPS", boolVar(func(c *Config) *bool { return &c.Capture.RawDumps })},
	{"CAPTURE_INDEX_PATH", stringVar(func(c *Config) *string { return &c.Capture.IndexPath })},
	{"CAPTURE_QUEUE_SIZE", intVar(func(c *Config) *int { return &c.Capture.QueueSize })},
	{"CAPTURE_RETENTION_DAYS", intVar(func(c *Config) *int { return &c.Capture.Retention.Days })},
	{"CAPTURE_RETENTION_MAX_CAPTURES", intVar(func(c *Config) *int { return &c.Capture.Retention.MaxCaptures })},
	{"CAPTURE_RETENTION_SCHEDULE", stringVar(func(c *Config) *string { return &c.Capture.Retention.Schedule })},

	// Decoder
	{"DECODER_MAX_BUFFER_BYTES", intVar(func(c *Config) *int { return &c.Decoder.MaxBufferBytes })},

	// Telemetry
	{"TELEMETRY_LOGGING_LEVEL", stringVar(func(c *Config) *string { return &c.Telemetry.Logging.Level })},
	{"TELEMETRY_LOGGING_FORMAT", stringVar(func(c *Config) *string { return &c.Telemetry.Logging.Format })},
	{"TELEMETRY_LOGGING_ADD_SOURCE", boolVar(func(c *Config) *bool { return &c.Telemetry.Logging.AddSource })},
	{"TELEMETRY_LOGGING_REDACT_HEADERS", boolVar(func(c *Config) *bool { return &c.Telemetry.Logging.RedactHeaders })},
	{"TELEMETRY_METRICS_ENABLED", boolVar(func(c *Config) *bool { return &c.Telemetry.Metrics.Enabled })},
	{"TELEMETRY_METRICS_PATH", stringVar(func(c *Config) *string { return &c.Telemetry.Metrics.Path })},
	{"TELEMETRY_METRICS_NAMESPACE", stringVar(func(c *Config) *string { return &c.Telemetry.Metrics.Namespace })},
}

// applyEnvOverrides applies legacy and prefixed variables. Unparseable
// values are reported as field errors rather than silently ignored.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []FieldError
	apply := func(prefix string, setters []envSetter) {
		for _, s := range setters {
			name := prefix + s.name
			val, ok := lookup(name)
			if !ok || val == "" {
				continue
			}
			if err := s.set(cfg, val); err != nil {
				errs = append(errs, FieldError{Field: name, Message: fmt.Sprintf("invalid value %q: %v", val, err)})
			}
		}
	}
	apply("", legacyEnv)
	apply(EnvPrefix, prefixedEnv)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// ParseSize parses a byte count such as "1048576", "512kb" or "1mb".
// Units are powers of 1024.
func ParseSize(s string) (int64, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"gb", 1 << 30},
		{"mb", 1 << 20},
		{"kb", 1 << 10},
		{"b", 1},
	} {
		if strings.HasSuffix(v, u.suffix) {
			v = strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return n * mult, nil
}
