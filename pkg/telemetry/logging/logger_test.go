package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid JSON config", Config{Level: "info", Format: "json"}, false},
		{"valid text config", Config{Level: "DEBUG", Format: "text"}, false},
		{"defaults", Config{}, false},
		{"invalid log level", Config{Level: "verbose"}, true},
		{"invalid format", Config{Format: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	child := logger.With("component", "test")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %s", buf.String())
	}
	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	child.Debug("shown")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("derived logger ignored level change: %s", buf.String())
	}
	if logger.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v", logger.Level())
	}
	if err := logger.SetLevel("loud"); err == nil {
		t.Error("SetLevel() accepted an unknown level")
	}
}

func TestLogger_RequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := WithRequestID(context.Background(), "req-42")
	logger.InfoContext(ctx, "hello")

	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Errorf("request_id missing: %s", buf.String())
	}
	if GetRequestID(context.Background()) != "" {
		t.Error("GetRequestID() on empty context should be empty")
	}
}

func TestLogger_CaptureIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := WithCaptureID(WithRequestID(context.Background(), "req-1"), "cap-7")
	logger.InfoContext(ctx, "frame")
	logger.InfoContext(ctx, "explicit", "capture_id", "cap-7")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		if n := strings.Count(line, `"capture_id":"cap-7"`); n != 1 {
			t.Errorf("capture_id appears %d times in %s", n, line)
		}
		if !strings.Contains(line, `"request_id":"req-1"`) {
			t.Errorf("request_id missing: %s", line)
		}
	}
	if GetCaptureID(context.Background()) != "" {
		t.Error("GetCaptureID() on empty context should be empty")
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "json", RedactSecrets: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("upstream", "authorization", "Bearer abc.def", "note", "key sk-1234567890abcdef used")

	out := buf.String()
	if strings.Contains(out, "abc.def") || strings.Contains(out, "sk-1234567890abcdef") {
		t.Errorf("secret leaked: %s", out)
	}

	h := http.Header{"Authorization": {"Bearer x"}, "Content-Type": {"application/json"}}
	red := RedactHeaders(h)
	if red.Get("Authorization") != redacted || red.Get("Content-Type") != "application/json" {
		t.Errorf("RedactHeaders() = %v", red)
	}
	if h.Get("Authorization") != "Bearer x" {
		t.Error("RedactHeaders() modified its input")
	}
}
