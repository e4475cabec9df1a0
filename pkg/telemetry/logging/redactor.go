package logging

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveHeaders carry credentials. Captures keep them; logs do not.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"api-key":             true,
}

// IsSensitiveHeader reports whether a header carries credentials.
func IsSensitiveHeader(name string) bool {
	return sensitiveHeaders[strings.ToLower(name)]
}

// Redactor masks credentials in log attributes.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor returns a Redactor with the built-in token patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/=-]+`),
			regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
		},
	}
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook. Attributes named
// after a sensitive header are replaced; string values have tokens masked.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if IsSensitiveHeader(a.Key) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if s := r.RedactString(a.Value.String()); s != a.Value.String() {
			return slog.String(a.Key, s)
		}
	}
	return a
}

// RedactString masks every token pattern in s.
func (r *Redactor) RedactString(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// RedactHeaders returns a copy of h with credential values masked.
func RedactHeaders(h http.Header) http.Header {
	out := h.Clone()
	for name := range out {
		if IsSensitiveHeader(name) {
			out[name] = []string{redacted}
		}
	}
	return out
}
