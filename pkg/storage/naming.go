package storage

import (
	"strings"

	"mercator-hq/llmtap/pkg/capture"
)

const (
	capturePrefix = "ReplayableRequest-"
	dumpPrefix    = "llmtap-"
	fileExt       = ".json"

	// timestampLayout sorts lexically in time order.
	timestampLayout = "20060102T150405.000000000"
)

// Dump kinds.
const (
	DumpRequest  = "req"
	DumpResponse = "rsp"
)

// stamp is the time and ID suffix shared by a capture and its dumps.
func stamp(c *capture.Capture) string {
	return c.Request.StartTime.UTC().Format(timestampLayout) + "-" + shortID(c.ID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// CaptureFileName returns the document name for c.
func CaptureFileName(c *capture.Capture) string {
	return capturePrefix + stamp(c) + fileExt
}

// DumpFileName returns the raw dump name of the given kind for c.
func DumpFileName(c *capture.Capture, kind string) string {
	return dumpPrefix + SanitizePath(c.Request.URL) + "-" + kind + "-" + stamp(c) + fileExt
}

// SanitizePath turns a request URI into a file name fragment: the query
// and the leading slash are dropped, slashes become underscores and any
// other character outside [A-Za-z0-9._-] becomes a dash.
func SanitizePath(uri string) string {
	p, _, _ := strings.Cut(uri, "?")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "root"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/':
			return '_'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, p)
}

// IsCaptureFile reports whether name is a capture document name.
func IsCaptureFile(name string) bool {
	return strings.HasPrefix(name, capturePrefix) && strings.HasSuffix(name, fileExt)
}
