package capture

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/llmtap/pkg/clock"
)

// RequestMeta describes the incoming request handed to Start.
type RequestMeta struct {
	URL     string
	Method  string
	Headers Headers
	Body    []byte
}

// Recorder accumulates one capture while its request is in flight. The
// relay loop calls it once per event, in event order, so the capture holds
// exactly what was relayed. Every method is serialized, so Snapshot may be
// called from another goroutine at any time.
type Recorder struct {
	mu      sync.Mutex
	clock   clock.Clock
	logger  *slog.Logger
	capture *Capture
	// last is the most recent timestamp handed out; new stamps never
	// precede it.
	last time.Time
}

// NewRecorder creates a Recorder. A nil clock uses the wall clock and a
// nil logger uses slog.Default.
func NewRecorder(clk clock.Clock, logger *slog.Logger) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		clock:  clk,
		logger: logger.With("component", "capture.recorder"),
	}
}

// Start begins a new capture. The request body is copied.
func (r *Recorder) Start(meta RequestMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.clock.Now()
	r.last = start
	r.capture = &Capture{
		ID: uuid.NewString(),
		Request: Request{
			URL:       meta.URL,
			Method:    meta.Method,
			Headers:   meta.Headers.Clone(),
			Body:      bytes.Clone(meta.Body),
			StartTime: start,
		},
	}
}

// stamp returns StartTime plus the monotonic elapsed time, clamped so it
// is never earlier than the previous stamp. Callers hold mu.
func (r *Recorder) stamp() time.Time {
	start := r.capture.Request.StartTime
	t := start.Add(r.clock.Since(start))
	if t.Before(r.last) {
		t = r.last
	}
	r.last = t
	return t
}

// OnHead records the response head.
func (r *Recorder) OnHead(status int, headers Headers, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		r.logger.Warn("response head before request start, ignoring")
		return
	}
	if r.capture.Response != nil {
		r.logger.Warn("duplicate response head, ignoring", "capture_id", r.capture.ID)
		return
	}
	r.capture.Response = &Response{
		Status:     status,
		Headers:    headers.Clone(),
		Version:    version,
		HeaderTime: r.stamp(),
	}
}

// OnBodyChunk appends a copy of chunk with its arrival time. Chunks
// arriving before the head are dropped.
func (r *Recorder) OnBodyChunk(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil || r.capture.Response == nil {
		r.logger.Warn("body chunk before response head, dropping", "bytes", len(chunk))
		return
	}
	resp := r.capture.Response
	if resp.EndTime != nil {
		r.logger.Warn("body chunk after completion, dropping", "capture_id", r.capture.ID, "bytes", len(chunk))
		return
	}
	resp.BodyChunks = append(resp.BodyChunks, bytes.Clone(chunk))
	resp.ChunkTimes = append(resp.ChunkTimes, r.stamp())
}

// OnComplete marks the response as finished.
func (r *Recorder) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil || r.capture.Response == nil {
		r.logger.Warn("completion before response head, ignoring")
		return
	}
	if r.capture.Response.EndTime != nil {
		return
	}
	end := r.stamp()
	r.capture.Response.EndTime = &end
}

// ID returns the capture ID, or "" before Start.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return ""
	}
	return r.capture.ID
}

// Snapshot returns a deep copy of the capture so far, or nil before Start.
func (r *Recorder) Snapshot() *Capture {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capture == nil {
		return nil
	}
	return r.capture.Clone()
}
