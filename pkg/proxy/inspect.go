package proxy

import (
	"context"
	"log/slog"
	"strings"

	"mercator-hq/llmtap/pkg/framing"
	"mercator-hq/llmtap/pkg/jsonvalue"
)

// Direction tells an Inspector which side of the exchange a frame
// belongs to.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Exchange identifies the request a frame was decoded from.
type Exchange struct {
	CaptureID string
	Method    string
	Path      string
	Direction Direction
}

// Inspector receives every decoded frame. A returned error is treated as
// a protocol violation; it is logged and counted and never interrupts
// forwarding. Inspect runs on the relay goroutine and must not block.
type Inspector interface {
	Inspect(ctx context.Context, ex Exchange, f framing.Frame) error
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func(ctx context.Context, ex Exchange, f framing.Frame) error

func (fn InspectorFunc) Inspect(ctx context.Context, ex Exchange, f framing.Frame) error {
	return fn(ctx, ex, f)
}

// FrameLogger parses JSON frames and logs a one-line summary of each at
// debug level. Plain frames are logged as trimmed text, cut at
// maxLoggedText bytes.
type FrameLogger struct {
	Logger *slog.Logger
}

// NewFrameLogger returns a FrameLogger writing to logger.
func NewFrameLogger(logger *slog.Logger) *FrameLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameLogger{Logger: logger.With("component", "proxy.frames")}
}

func (l *FrameLogger) Inspect(ctx context.Context, ex Exchange, f framing.Frame) error {
	if f.Mode == framing.ModePlain {
		l.Logger.DebugContext(ctx, "frame",
			"capture_id", ex.CaptureID,
			"direction", ex.Direction,
			"mode", f.Mode.String(),
			"bytes", len(f.Raw),
			"text", plainText(f.Raw),
		)
		return nil
	}

	v, err := jsonvalue.Parse(f.Raw)
	if err != nil {
		return &ProtocolViolation{Mode: f.Mode.String(), Reason: "frame is not valid JSON", Cause: err}
	}

	attrs := []any{
		"capture_id", ex.CaptureID,
		"direction", ex.Direction,
		"mode", f.Mode.String(),
		"bytes", len(f.Raw),
	}
	if f.Event != nil && f.Event.Event != "" {
		attrs = append(attrs, "event", f.Event.Event)
	}
	if model, ok := v.Get("model").Text(); ok {
		attrs = append(attrs, "model", model)
	}
	if text, ok := Content(v); ok {
		attrs = append(attrs, "content", truncate(text, 120))
	}
	if done, ok := v.Get("done").Bool(); ok && done {
		attrs = append(attrs, "done", true)
	}
	l.Logger.DebugContext(ctx, "frame", attrs...)
	return nil
}

// contentPaths are the places Ollama and OpenAI-compatible payloads
// keep generated or prompted text.
var contentPaths = [][]any{
	{"message", "content"},
	{"response"},
	{"choices", 0, "delta", "content"},
	{"choices", 0, "message", "content"},
	{"choices", 0, "text"},
	{"prompt"},
}

// Content extracts the text carried by a chat or completion payload.
func Content(v jsonvalue.Value) (string, bool) {
	for _, p := range contentPaths {
		if s, ok := v.Path(p...).Text(); ok {
			return s, true
		}
	}
	if msgs := v.Get("messages"); msgs.Len() > 0 {
		return msgs.Index(msgs.Len() - 1).Get("content").Text()
	}
	return "", false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

const maxLoggedText = 512

// plainText returns the start of an opaque body as trimmed text.
func plainText(raw []byte) string {
	cut := len(raw) > maxLoggedText
	if cut {
		raw = raw[:maxLoggedText]
	}
	text := strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
	if cut {
		text += "..."
	}
	return text
}
