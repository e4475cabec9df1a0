package capture

import (
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

// Header is a single name/value pair as it appeared on the wire.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered header list. Lookups are case-insensitive; order
// is kept for re-emission.
type Headers []Header

// HeadersFromHTTP converts a net/http header map. Go does not keep the
// arrival order of distinct names, so names are emitted in sorted order
// and repeated values keep their relative order.
func HeadersFromHTTP(h http.Header) Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Headers, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

// HTTP converts the list back to a net/http header map.
func (h Headers) HTTP() http.Header {
	out := make(http.Header, len(h))
	for _, f := range h {
		out.Add(f.Name, f.Value)
	}
	return out
}

// Get returns the first value for name, or "" when absent.
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name in order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Contains reports whether any value of name includes token as a
// comma-separated element, compared case-insensitively.
func (h Headers) Contains(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// Without returns a copy with every field whose name matches one of
// names removed.
func (h Headers) Without(names ...string) Headers {
	out := make(Headers, 0, len(h))
outer:
	for _, f := range h {
		for _, n := range names {
			if strings.EqualFold(f.Name, n) {
				continue outer
			}
		}
		out = append(out, f)
	}
	return out
}

// Clone returns a copy of h. A nil list stays nil.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Canonical returns a copy with names in canonical MIME form.
func (h Headers) Canonical() Headers {
	out := h.Clone()
	for i := range out {
		out[i].Name = textproto.CanonicalMIMEHeaderKey(out[i].Name)
	}
	return out
}
