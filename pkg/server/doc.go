// Package server assembles the llmtap process: the forwarder, the
// capture pipeline, retention, health checks and metrics.
//
// # Routes
//
// Every path outside the admin prefix (default "/_llmtap") is forwarded
// to the upstream unchanged. Under the prefix:
//
//   - GET  /_llmtap/health          - Liveness probe (always 200)
//   - GET  /_llmtap/ready           - Readiness: upstream reachable, index open
//   - GET  /_llmtap/version         - Build information
//   - GET  /_llmtap/metrics         - Prometheus metrics, when enabled
//   - GET  /_llmtap/captures        - Index entries, newest first
//   - GET  /_llmtap/captures/{id}   - One stored capture document
//   - GET  /_llmtap/replay/{id}     - Replays a capture; ?speed= scales pacing
//   - POST /_llmtap/captures/prune  - Applies the retention rules now
//
// The capture and replay routes exist only when capture is enabled; the
// prune route only when a retention rule is set.
//
// # Middleware Chain
//
// Requests pass through, outermost first:
//  1. Recovery: turns a panic into a 500 before any bytes were sent
//  2. RequestID: accepts or generates X-Request-ID; echoed on admin
//     responses only, forwarded responses keep the upstream headers
//  3. Logging: one line per request with status and duration
//  4. BodyLimit: rejects request bodies over the configured size
//
// # Basic Usage
//
//	cfg, err := config.LoadConfig(path)
//	if err != nil {
//	    return err
//	}
//	srv, err := server.New(cfg, server.Options{Logger: logger.Logger})
//	if err != nil {
//	    return err
//	}
//	return srv.ListenAndServe(ctx)
//
// Cancelling ctx stops accepting connections, waits up to the shutdown
// timeout for in-flight exchanges, drains the persister and closes the
// index.
package server
