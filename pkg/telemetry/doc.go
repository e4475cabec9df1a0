// Package telemetry groups llmtap's observability packages.
//
//   - logging: slog construction, request-scoped attributes, secret redaction
//   - metrics: Prometheus collector and handler
//   - health: liveness, readiness and version endpoints
//
// Captures are never redacted; redaction applies to log output only.
package telemetry
