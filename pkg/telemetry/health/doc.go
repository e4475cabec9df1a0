// Package health implements llmtap's health endpoints.
//
// The server mounts them under the admin prefix:
//
//	/_llmtap/health   liveness, always "ok"
//	/_llmtap/ready    readiness checks (upstream reachability, capture index)
//	/_llmtap/version  build information
package health
