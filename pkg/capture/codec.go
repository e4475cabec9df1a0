package capture

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// document is the persisted form. Byte slices encode as base64 and
// timestamps as RFC 3339 with nanoseconds.
type document struct {
	ID             string       `json:"id,omitempty"`
	Method         string       `json:"method"`
	URL            string       `json:"url"`
	RequestHeaders Headers      `json:"requestHeaders"`
	RequestBody    []byte       `json:"requestBody,omitempty"`
	StartTime      time.Time    `json:"startTime"`
	Response       *responseDoc `json:"response,omitempty"`
}

type responseDoc struct {
	Status     int         `json:"status"`
	Headers    Headers     `json:"headers"`
	Version    string      `json:"version"`
	BodyChunks [][]byte    `json:"bodyChunks"`
	HeaderTime time.Time   `json:"headerTime"`
	ChunkTimes []time.Time `json:"chunkTime"`
	EndTime    *time.Time  `json:"endTime,omitempty"`
}

func toDocument(c *Capture) document {
	d := document{
		ID:             c.ID,
		Method:         c.Request.Method,
		URL:            c.Request.URL,
		RequestHeaders: nonNil(c.Request.Headers),
		RequestBody:    c.Request.Body,
		StartTime:      c.Request.StartTime.Round(0),
	}
	if r := c.Response; r != nil {
		rd := &responseDoc{
			Status:     r.Status,
			Headers:    nonNil(r.Headers),
			Version:    r.Version,
			BodyChunks: r.BodyChunks,
			HeaderTime: r.HeaderTime.Round(0),
			ChunkTimes: make([]time.Time, len(r.ChunkTimes)),
		}
		if rd.BodyChunks == nil {
			rd.BodyChunks = [][]byte{}
		}
		for i, t := range r.ChunkTimes {
			rd.ChunkTimes[i] = t.Round(0)
		}
		if r.EndTime != nil {
			end := r.EndTime.Round(0)
			rd.EndTime = &end
		}
		d.Response = rd
	}
	return d
}

func nonNil(h Headers) Headers {
	if h == nil {
		return Headers{}
	}
	return h
}

func fromDocument(d document) (*Capture, error) {
	c := &Capture{
		ID: d.ID,
		Request: Request{
			URL:       d.URL,
			Method:    d.Method,
			Headers:   d.RequestHeaders,
			Body:      d.RequestBody,
			StartTime: d.StartTime,
		},
	}
	if rd := d.Response; rd != nil {
		if len(rd.BodyChunks) != len(rd.ChunkTimes) {
			return nil, fmt.Errorf("%w: %d chunks but %d chunk times", ErrInvalid, len(rd.BodyChunks), len(rd.ChunkTimes))
		}
		c.Response = &Response{
			Status:     rd.Status,
			Headers:    rd.Headers,
			Version:    normalizeVersion(rd.Version),
			BodyChunks: rd.BodyChunks,
			ChunkTimes: rd.ChunkTimes,
			HeaderTime: rd.HeaderTime,
			EndTime:    rd.EndTime,
		}
	}
	return c, nil
}

// normalizeVersion accepts the bare "1.1" form written by older files.
func normalizeVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "HTTP/") {
		return v
	}
	return "HTTP/" + v
}

// Marshal encodes c as an indented JSON document.
func Marshal(c *Capture) ([]byte, error) {
	return json.MarshalIndent(toDocument(c), "", "  ")
}

// Unmarshal decodes a JSON document produced by Marshal.
func Unmarshal(data []byte) (*Capture, error) {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return fromDocument(d)
}

// Encode writes c to w.
func Encode(w io.Writer, c *Capture) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toDocument(c))
}

// Decode reads one capture document from r.
func Decode(r io.Reader) (*Capture, error) {
	var d document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return fromDocument(d)
}
