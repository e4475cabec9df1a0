// Package config loads llmtap configuration.
//
// Configuration comes from an optional YAML file, then environment
// variables. Missing fields take the values in defaults.go:
//
//	server:
//	  host: 127.0.0.1
//	  port: 8080
//	upstream:
//	  base_url: http://localhost:11434
//	capture:
//	  enabled: true
//	  directory: Data
//
// Every field can be overridden with LLMTAP_<SECTION>_<FIELD>, for
// example LLMTAP_UPSTREAM_BASE_URL. The variables HOST, PORT,
// UPSTREAM_URL, PERSIST and MAX_BODY_SIZE are honoured as well.
//
// Watch re-reads the file when it changes; the server applies the new log
// level without a restart.
package config
