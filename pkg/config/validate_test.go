package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default configuration must be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative timeout", func(c *Config) { c.Server.IdleTimeout = -1 }, "server.idle_timeout"},
		{"root admin prefix", func(c *Config) { c.Server.AdminPrefix = "/" }, "server.admin_prefix"},
		{"missing upstream host", func(c *Config) { c.Upstream.BaseURL = "http://" }, "upstream.base_url"},
		{"bad scheme", func(c *Config) { c.Upstream.BaseURL = "unix:///tmp/sock" }, "upstream.base_url"},
		{"empty queue", func(c *Config) { c.Capture.QueueSize = 0 }, "capture.queue_size"},
		{"bad cron", func(c *Config) { c.Capture.Retention.Schedule = "every day" }, "capture.retention.schedule"},
		{"bad level", func(c *Config) { c.Telemetry.Logging.Level = "loud" }, "telemetry.logging.level"},
		{"bad format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"metrics outside admin prefix", func(c *Config) { c.Telemetry.Metrics.Path = "/metrics" }, "telemetry.metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "server.port", Message: "bad"},
		{Field: "upstream.base_url", Message: "worse"},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "2 errors") || !strings.Contains(msg, "upstream.base_url: worse") {
		t.Errorf("unexpected message %q", msg)
	}
}
