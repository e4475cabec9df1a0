// Package capture holds the data model of a recorded HTTP exchange, the
// recorder that fills it while a request is in flight and the JSON codec
// used to persist it.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is wrapped by every validation and decoding failure.
var ErrInvalid = errors.New("invalid capture")

// Request is the incoming request as the proxy received it.
type Request struct {
	// URL is the request URI as received (path and query).
	URL    string
	Method string
	// Headers are the incoming headers, including ones the forwarder
	// strips before sending upstream.
	Headers Headers
	// Body is nil when the request carried no body.
	Body      []byte
	StartTime time.Time
}

// Response is the upstream response head and body as it arrived.
type Response struct {
	Status  int
	Headers Headers
	// Version is the HTTP protocol, e.g. "HTTP/1.1".
	Version    string
	BodyChunks [][]byte
	// ChunkTimes[i] is the arrival time of BodyChunks[i].
	ChunkTimes []time.Time
	HeaderTime time.Time
	// EndTime is nil until the upstream signalled completion.
	EndTime *time.Time
}

// Capture is one request and at most one response.
type Capture struct {
	ID       string
	Request  Request
	Response *Response
}

// Complete reports whether the upstream response finished normally.
func (c *Capture) Complete() bool {
	return c.Response != nil && c.Response.EndTime != nil
}

// Chunked reports whether the recorded response used chunked transfer
// encoding.
func (c *Capture) Chunked() bool {
	return c.Response != nil && c.Response.Headers.Contains("Transfer-Encoding", "chunked")
}

// Body returns the concatenated response body.
func (r *Response) Body() []byte {
	return bytes.Join(r.BodyChunks, nil)
}

// Size returns the total number of body bytes received.
func (r *Response) Size() int {
	n := 0
	for _, c := range r.BodyChunks {
		n += len(c)
	}
	return n
}

// Clone returns a deep copy of c.
func (c *Capture) Clone() *Capture {
	out := &Capture{
		ID: c.ID,
		Request: Request{
			URL:       c.Request.URL,
			Method:    c.Request.Method,
			Headers:   c.Request.Headers.Clone(),
			Body:      bytes.Clone(c.Request.Body),
			StartTime: c.Request.StartTime,
		},
	}
	if c.Response == nil {
		return out
	}
	r := c.Response
	resp := &Response{
		Status:     r.Status,
		Headers:    r.Headers.Clone(),
		Version:    r.Version,
		BodyChunks: make([][]byte, len(r.BodyChunks)),
		ChunkTimes: append([]time.Time(nil), r.ChunkTimes...),
		HeaderTime: r.HeaderTime,
	}
	for i, chunk := range r.BodyChunks {
		resp.BodyChunks[i] = bytes.Clone(chunk)
	}
	if r.EndTime != nil {
		end := *r.EndTime
		resp.EndTime = &end
	}
	out.Response = resp
	return out
}

// Validate checks the timestamp ordering and chunk bookkeeping.
func (c *Capture) Validate() error {
	if c.Request.StartTime.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalid)
	}
	r := c.Response
	if r == nil {
		return nil
	}
	if len(r.BodyChunks) != len(r.ChunkTimes) {
		return fmt.Errorf("%w: %d chunks but %d chunk times", ErrInvalid, len(r.BodyChunks), len(r.ChunkTimes))
	}
	if r.HeaderTime.Before(c.Request.StartTime) {
		return fmt.Errorf("%w: header time precedes start time", ErrInvalid)
	}
	prev := r.HeaderTime
	for i, t := range r.ChunkTimes {
		if t.Before(prev) {
			return fmt.Errorf("%w: chunk %d time precedes previous timestamp", ErrInvalid, i)
		}
		prev = t
	}
	if r.EndTime != nil && r.EndTime.Before(prev) {
		return fmt.Errorf("%w: end time precedes last chunk", ErrInvalid)
	}
	return nil
}
