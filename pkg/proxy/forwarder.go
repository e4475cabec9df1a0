package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/llmtap/pkg/capture"
	"mercator-hq/llmtap/pkg/clock"
	"mercator-hq/llmtap/pkg/framing"
	"mercator-hq/llmtap/pkg/telemetry/logging"
)

// Sink receives finished captures. Submit must not block the caller.
type Sink interface {
	Submit(c *capture.Capture)
}

// Metrics is the subset of the metrics collector the forwarder reports to.
type Metrics interface {
	RecordRequest(method, mode, outcome string, status int, duration time.Duration)
	RecordChunk(bytes int)
	RecordFrame(mode string)
	RecordProtocolViolation(mode, reason string)
	RecordDecoderOverflow(mode string, bytes int)
}

// Request outcomes reported to Metrics.
const (
	OutcomeCompleted           = "completed"
	OutcomeUpstreamUnavailable = "upstream_unavailable"
	OutcomeUpstreamFailed      = "upstream_failed"
	OutcomeDownstreamFailed    = "downstream_failed"
	OutcomeRejected            = "rejected"
)

// hopHeaders are connection-specific and never copied to the client.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Te",
	"Trailer",
}

// ForwarderConfig wires a Forwarder.
type ForwarderConfig struct {
	Upstream *Upstream
	// Sink receives a snapshot of every capture that received a head.
	// Nil disables persistence.
	Sink Sink
	// Inspector receives decoded frames. Nil disables inspection.
	Inspector Inspector
	Metrics   Metrics
	Clock     clock.Clock
	Logger    *slog.Logger
	// MaxFrameBuffer is the decoder overflow threshold.
	MaxFrameBuffer int
}

// Forwarder relays requests to the upstream while recording and framing
// the response.
type Forwarder struct {
	upstream  *Upstream
	sink      Sink
	inspector Inspector
	metrics   Metrics
	clock     clock.Clock
	logger    *slog.Logger
	maxBuffer int
}

// NewForwarder creates a Forwarder.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	f := &Forwarder{
		upstream:  cfg.Upstream,
		sink:      cfg.Sink,
		inspector: cfg.Inspector,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		maxBuffer: cfg.MaxFrameBuffer,
	}
	if f.clock == nil {
		f.clock = clock.New()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.metrics == nil {
		f.metrics = nopMetrics{}
	}
	if f.maxBuffer <= 0 {
		f.maxBuffer = framing.MaxBufferBytes
	}
	f.logger = f.logger.With("component", "proxy.forwarder")
	return f
}

// ServeHTTP forwards r. Failures before the response head reached the
// client are answered with a JSON error; later failures end the response.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	res, err := f.Forward(r.Context(), w, r)

	outcome := OutcomeCompleted
	var (
		reqErr      *RequestError
		unavailable *UpstreamUnavailableError
		bodyErr     *UpstreamBodyError
		writeErr    *DownstreamWriteError
	)
	switch {
	case err == nil:
	case errors.As(err, &reqErr):
		outcome = OutcomeRejected
	case errors.As(err, &unavailable):
		outcome = OutcomeUpstreamUnavailable
	case errors.As(err, &bodyErr):
		outcome = OutcomeUpstreamFailed
	case errors.As(err, &writeErr):
		outcome = OutcomeDownstreamFailed
	default:
		outcome = OutcomeUpstreamFailed
	}

	if err != nil && !res.HeadWritten {
		errResp := HandleError(err)
		res.Status = errResp.Error.Status
		if werr := WriteErrorResponse(w, errResp); werr != nil {
			f.logger.DebugContext(r.Context(), "failed to write error response", "error", werr)
		}
	}

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	f.logger.Log(r.Context(), level, "exchange finished",
		"capture_id", res.CaptureID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", res.Status,
		"mode", res.Mode,
		"chunked", res.Chunked,
		"outcome", outcome,
		"error", err,
	)
	f.metrics.RecordRequest(r.Method, res.Mode, outcome, res.Status, time.Since(start))
}

// Result summarizes one forwarded exchange.
type Result struct {
	CaptureID string
	Status    int
	Mode      string
	Chunked   bool
	// HeadWritten reports whether a status line reached the client.
	HeadWritten bool
}

// Forward relays r to the upstream and the response to w.
//
// The outgoing request carries r's method, path, query, body and headers
// minus Accept-Encoding. A chunked upstream response is relayed part by
// part with a flush after each; any other response is assembled and
// written once with its Content-Length.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request) (Result, error) {
	var res Result

	body, err := readBody(r)
	if err != nil {
		return res, err
	}

	rec := capture.NewRecorder(f.clock, f.logger)
	rec.Start(capture.RequestMeta{
		URL:     r.URL.RequestURI(),
		Method:  r.Method,
		Headers: capture.HeadersFromHTTP(r.Header),
		Body:    body,
	})
	res.CaptureID = rec.ID()
	ctx = logging.WithCaptureID(ctx, res.CaptureID)

	reqEx := Exchange{CaptureID: res.CaptureID, Method: r.Method, Path: r.URL.Path, Direction: DirectionRequest}
	if body != nil && framing.ModeFromContentType(r.Header.Get("Content-Type")) == framing.ModeJSON {
		f.inspect(ctx, reqEx, framing.Frame{Mode: framing.ModeJSON, Raw: body})
	}

	target := f.upstream.Target(r.URL)
	var reqBody io.Reader = http.NoBody
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, r.Method, target, reqBody)
	if err != nil {
		return res, &UpstreamUnavailableError{URL: target, Cause: err}
	}
	out.Header = capture.HeadersFromHTTP(r.Header).Without("Accept-Encoding").HTTP()

	stream := f.upstream.Stream(ctx, out)
	defer stream.Cancel()

	ev, err := stream.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = &UpstreamUnavailableError{URL: target, Cause: io.ErrUnexpectedEOF}
		}
		var unavailable *UpstreamUnavailableError
		if !errors.As(err, &unavailable) && ctx.Err() != nil {
			err = &DownstreamWriteError{Cause: err}
		}
		return res, err
	}
	if ev.Head == nil {
		return res, &UpstreamUnavailableError{URL: target, Cause: errors.New("body received before response head")}
	}
	rec.OnHead(ev.Head.Status, ev.Head.Headers, ev.Head.Version)
	defer func() {
		if f.sink != nil {
			f.sink.Submit(rec.Snapshot())
		}
	}()

	head := ev.Head
	mode := framing.ModeFromContentType(head.Headers.Get("Content-Type"))
	res.Status = head.Status
	res.Mode = mode.String()
	res.Chunked = head.Chunked

	dec := framing.NewDecoder(mode,
		framing.WithLogger(f.logger),
		framing.WithMaxBuffer(f.maxBuffer),
		framing.WithOverflowHook(func(n int) { f.metrics.RecordDecoderOverflow(mode.String(), n) }),
		framing.WithDiscardHook(func([]byte) { f.metrics.RecordProtocolViolation(mode.String(), "event without data") }),
	)
	rspEx := Exchange{CaptureID: res.CaptureID, Method: r.Method, Path: r.URL.Path, Direction: DirectionResponse}

	if head.Chunked {
		err = f.relayStreaming(ctx, w, stream, rec, dec, rspEx, head, &res)
	} else {
		err = f.relayBuffered(ctx, w, r, stream, rec, dec, rspEx, head, &res)
	}
	return res, err
}

func (f *Forwarder) relayStreaming(ctx context.Context, w http.ResponseWriter, stream *EventStream,
	rec *capture.Recorder, dec *framing.Decoder, ex Exchange, head *Head, res *Result) error {

	copyHeaders(w.Header(), head.Headers.Without(append(hopHeaders, "Content-Length")...))
	w.WriteHeader(head.Status)
	res.HeadWritten = true
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return &DownstreamWriteError{Cause: err}
			}
			return err
		}

		rec.OnBodyChunk(ev.Body)
		f.metrics.RecordChunk(len(ev.Body))
		for _, fr := range dec.Feed(ev.Body) {
			f.inspect(ctx, ex, fr)
		}
		if _, err := w.Write(ev.Body); err != nil {
			stream.Cancel()
			return &DownstreamWriteError{Cause: err}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	rec.OnComplete()
	for _, fr := range dec.Flush() {
		f.inspect(ctx, ex, fr)
	}
	return nil
}

func (f *Forwarder) relayBuffered(ctx context.Context, w http.ResponseWriter, r *http.Request, stream *EventStream,
	rec *capture.Recorder, dec *framing.Decoder, ex Exchange, head *Head, res *Result) error {

	var body bytes.Buffer
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return &DownstreamWriteError{Cause: err}
			}
			return err
		}
		rec.OnBodyChunk(ev.Body)
		f.metrics.RecordChunk(len(ev.Body))
		body.Write(ev.Body)
		for _, fr := range dec.Feed(ev.Body) {
			f.inspect(ctx, ex, fr)
		}
	}
	rec.OnComplete()
	for _, fr := range dec.Flush() {
		f.inspect(ctx, ex, fr)
	}

	h := w.Header()
	copyHeaders(h, head.Headers.Without(hopHeaders...))
	if r.Method != http.MethodHead {
		h.Set("Content-Length", strconv.Itoa(body.Len()))
	}
	w.WriteHeader(head.Status)
	res.HeadWritten = true

	if body.Len() == 0 || !bodyAllowed(r.Method, head.Status) {
		return nil
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return &DownstreamWriteError{Cause: err}
	}
	return nil
}

func (f *Forwarder) inspect(ctx context.Context, ex Exchange, fr framing.Frame) {
	f.metrics.RecordFrame(fr.Mode.String())
	if f.inspector == nil {
		return
	}
	if err := f.inspector.Inspect(ctx, ex, fr); err != nil {
		reason := "inspector rejected frame"
		var pv *ProtocolViolation
		if errors.As(err, &pv) {
			reason = pv.Reason
		}
		f.metrics.RecordProtocolViolation(fr.Mode.String(), reason)
		f.logger.WarnContext(ctx, "protocol violation",
			"capture_id", ex.CaptureID,
			"direction", ex.Direction,
			"error", err,
		)
	}
}

// readBody reads the full request body. An empty body is reported as nil.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &RequestError{
				Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", tooLarge.Limit),
				Status:  http.StatusRequestEntityTooLarge,
			}
		}
		return nil, &RequestError{Message: fmt.Sprintf("failed to read request body: %v", err), Status: http.StatusBadRequest}
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

// copyHeaders replaces every header named in src, so dst ends up with
// exactly the upstream's values for those names.
func copyHeaders(dst http.Header, src capture.Headers) {
	seen := make(map[string]bool, len(src))
	for _, h := range src {
		key := http.CanonicalHeaderKey(h.Name)
		if !seen[key] {
			seen[key] = true
			dst.Del(key)
		}
		dst.Add(key, h.Value)
	}
}

func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	return status != http.StatusNoContent && status != http.StatusNotModified && (status < 100 || status >= 200)
}

type nopMetrics struct{}

func (nopMetrics) RecordRequest(string, string, string, int, time.Duration) {}
func (nopMetrics) RecordChunk(int)                                          {}
func (nopMetrics) RecordFrame(string)                                       {}
func (nopMetrics) RecordProtocolViolation(string, string)                   {}
func (nopMetrics) RecordDecoderOverflow(string, int)                        {}
