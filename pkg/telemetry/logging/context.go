package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
	// CaptureIDKey is the context key for the ID of the capture being
	// recorded for the current exchange.
	CaptureIDKey contextKey = "capture_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithCaptureID adds a capture ID to the context.
func WithCaptureID(ctx context.Context, captureID string) context.Context {
	return context.WithValue(ctx, CaptureIDKey, captureID)
}

// GetCaptureID retrieves the capture ID from the context.
func GetCaptureID(ctx context.Context) string {
	return stringValue(ctx, CaptureIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// contextAttrs returns the IDs carried by ctx that r does not already
// have as attributes.
func contextAttrs(ctx context.Context, r slog.Record) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range []contextKey{RequestIDKey, CaptureIDKey} {
		v := stringValue(ctx, key)
		if v == "" || hasAttr(r, string(key)) {
			continue
		}
		attrs = append(attrs, slog.String(string(key), v))
	}
	return attrs
}

func hasAttr(r slog.Record, key string) bool {
	found := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
