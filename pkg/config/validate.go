package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/llmtap/pkg/telemetry/logging"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.port").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration. All field errors are
// collected and returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateCapture(&cfg.Capture)...)
	if cfg.Decoder.MaxBufferBytes < 0 {
		errs = append(errs, FieldError{Field: "decoder.max_buffer_bytes", Message: "must be non-negative"})
	}
	errs = append(errs, validateTelemetry(&cfg.Telemetry, cfg.Server.AdminPrefix)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, FieldError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range 1-65535", cfg.Port),
		})
	}
	for field, d := range map[string]int64{
		"server.read_timeout":     int64(cfg.ReadTimeout),
		"server.write_timeout":    int64(cfg.WriteTimeout),
		"server.idle_timeout":     int64(cfg.IdleTimeout),
		"server.shutdown_timeout": int64(cfg.ShutdownTimeout),
	} {
		if d < 0 {
			errs = append(errs, FieldError{Field: field, Message: "timeout must be non-negative"})
		}
	}
	if cfg.MaxRequestBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_request_body_bytes",
			Message: "must be non-negative",
		})
	}
	if !strings.HasPrefix(cfg.AdminPrefix, "/") || cfg.AdminPrefix == "/" {
		errs = append(errs, FieldError{
			Field:   "server.admin_prefix",
			Message: fmt.Sprintf("admin prefix %q must start with / and name a path", cfg.AdminPrefix),
		})
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	u, err := url.Parse(cfg.BaseURL)
	switch {
	case cfg.BaseURL == "":
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: "base URL is required"})
	case err != nil:
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: fmt.Sprintf("invalid URL format: %v", err)})
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: "scheme must be http or https"})
	case u.Host == "":
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: "host is required"})
	}

	if cfg.DialTimeout < 0 || cfg.ResponseHeaderTimeout < 0 || cfg.IdleConnTimeout < 0 {
		errs = append(errs, FieldError{Field: "upstream", Message: "timeouts must be non-negative"})
	}
	if cfg.MaxIdleConns < 0 || cfg.MaxIdleConnsPerHost < 0 {
		errs = append(errs, FieldError{Field: "upstream", Message: "connection pool sizes must be non-negative"})
	}

	return errs
}

func validateCapture(cfg *CaptureConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled && cfg.Directory == "" {
		errs = append(errs, FieldError{Field: "capture.directory", Message: "directory is required when capture is enabled"})
	}
	if cfg.QueueSize < 1 {
		errs = append(errs, FieldError{Field: "capture.queue_size", Message: "queue size must be at least 1"})
	}
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "capture.retention.days", Message: "must be non-negative"})
	}
	if cfg.Retention.MaxCaptures < 0 {
		errs = append(errs, FieldError{Field: "capture.retention.max_captures", Message: "must be non-negative"})
	}
	if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "capture.retention.schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Retention.Schedule, err),
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig, adminPrefix string) []FieldError {
	var errs []FieldError

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: err.Error()})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid format %q (must be text or json)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with /"})
		} else if adminPrefix != "" && !strings.HasPrefix(cfg.Metrics.Path, adminPrefix+"/") {
			// Anything outside the admin prefix would shadow a forwarded path.
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: fmt.Sprintf("path must be under the admin prefix %q", adminPrefix),
			})
		}
		if cfg.Metrics.Namespace == "" {
			errs = append(errs, FieldError{Field: "telemetry.metrics.namespace", Message: "namespace is required"})
		}
	}

	return errs
}
