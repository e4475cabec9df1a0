// Package framing splits streamed response bodies into frames without
// buffering the whole body.
//
// Server-sent event streams are split on blank lines, NDJSON on line
// feeds. JSON and any other body are delivered as a single frame once
// the response completes.
package framing

import (
	"mime"
	"strings"
)

// Mode selects how a body is split into frames.
type Mode int

const (
	// ModePlain buffers the body and yields it once on Flush.
	ModePlain Mode = iota
	// ModeJSON buffers a single JSON document and yields it on Flush.
	ModeJSON
	// ModeEventStream splits text/event-stream bodies into events.
	ModeEventStream
	// ModeNDJSON splits newline-delimited JSON into lines.
	ModeNDJSON
)

func (m Mode) String() string {
	switch m {
	case ModeJSON:
		return "json"
	case ModeEventStream:
		return "event-stream"
	case ModeNDJSON:
		return "ndjson"
	default:
		return "plain"
	}
}

// Streaming reports whether the mode yields frames before completion.
func (m Mode) Streaming() bool {
	return m == ModeEventStream || m == ModeNDJSON
}

// ModeFromContentType maps a Content-Type header value to a Mode.
// Parameters and letter case are ignored.
func ModeFromContentType(contentType string) Mode {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	}
	switch mediaType {
	case "application/json":
		return ModeJSON
	case "text/event-stream":
		return ModeEventStream
	case "application/x-ndjson":
		return ModeNDJSON
	default:
		return ModePlain
	}
}
