package framing

import (
	"bytes"
	"iter"
	"log/slog"
)

// MaxBufferBytes is the default overflow threshold. When more than this
// many bytes are buffered without a frame boundary the buffer is dropped.
const MaxBufferBytes = 10 << 20

// Frame is one decoded unit of a body.
type Frame struct {
	Mode Mode
	// Raw is the frame payload: the data of an event, one NDJSON line, or
	// the whole body in plain and JSON mode.
	Raw []byte
	// Event is set in event-stream mode.
	Event *Event
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for overflow and discard diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMaxBuffer overrides MaxBufferBytes. Non-positive values are ignored.
func WithMaxBuffer(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.max = n
		}
	}
}

// WithOverflowHook is called with the number of bytes discarded on every
// buffer overflow.
func WithOverflowHook(fn func(discarded int)) Option {
	return func(d *Decoder) { d.onOverflow = fn }
}

// WithDiscardHook is called for every event block dropped because it had
// no data line.
func WithDiscardHook(fn func(block []byte)) Option {
	return func(d *Decoder) { d.onDiscard = fn }
}

// Decoder incrementally frames a body. It is not safe for concurrent use;
// one Decoder belongs to one response.
type Decoder struct {
	mode Mode
	buf  []byte
	// off is the start of unconsumed bytes in buf.
	off int
	// scan is the absolute position in buf before which no boundary can
	// start.
	scan int
	max  int

	logger     *slog.Logger
	onOverflow func(int)
	onDiscard  func([]byte)
}

// NewDecoder returns a Decoder for mode.
func NewDecoder(mode Mode, opts ...Option) *Decoder {
	d := &Decoder{
		mode:   mode,
		max:    MaxBufferBytes,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "framing.decoder", "mode", mode.String())
	return d
}

// Mode returns the decoder's mode.
func (d *Decoder) Mode() Mode {
	return d.mode
}

// Buffered returns the number of bytes waiting for a boundary.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Write appends chunk to the buffer. It never fails.
func (d *Decoder) Write(chunk []byte) (int, error) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.scan -= d.off
		d.off = 0
	}
	d.buf = append(d.buf, chunk...)
	return len(chunk), nil
}

// Next extracts the next complete frame. It returns false when no
// complete frame is buffered; in that case an oversized buffer is
// discarded.
func (d *Decoder) Next() (Frame, bool) {
	for {
		f, found, keep := d.extract()
		if !found {
			d.checkOverflow()
			return Frame{}, false
		}
		if keep {
			return f, true
		}
	}
}

// Frames yields every complete frame currently buffered.
func (d *Decoder) Frames() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for {
			f, ok := d.Next()
			if !ok || !yield(f) {
				return
			}
		}
	}
}

// Feed writes chunk and returns the frames it completed.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.Write(chunk)
	var out []Frame
	for f := range d.Frames() {
		out = append(out, f)
	}
	return out
}

// Flush is called when the body is complete. Plain and JSON modes yield
// the buffered body as one frame if it is non-empty. Streaming modes
// return their remaining complete frames and drop a trailing fragment.
// The decoder is empty afterwards.
func (d *Decoder) Flush() []Frame {
	var out []Frame
	if d.mode.Streaming() {
		for f := range d.Frames() {
			out = append(out, f)
		}
		if rest := d.Buffered(); rest > 0 {
			d.logger.Debug("dropping incomplete trailing frame", "bytes", rest)
		}
	} else if d.Buffered() > 0 {
		out = append(out, Frame{Mode: d.mode, Raw: bytes.Clone(d.buf[d.off:])})
	}
	d.reset()
	return out
}

func (d *Decoder) reset() {
	d.buf = d.buf[:0]
	d.off = 0
	d.scan = 0
}

func (d *Decoder) checkOverflow() {
	n := d.Buffered()
	if n <= d.max {
		return
	}
	d.logger.Warn("frame buffer overflow, discarding buffered bytes", "bytes", n, "limit", d.max)
	d.reset()
	if d.onOverflow != nil {
		d.onOverflow(n)
	}
}

// extract consumes one block. found reports whether a boundary was
// present; keep reports whether the block produced a frame.
func (d *Decoder) extract() (f Frame, found, keep bool) {
	switch d.mode {
	case ModeNDJSON:
		return d.extractLine()
	case ModeEventStream:
		return d.extractEvent()
	default:
		return Frame{}, false, false
	}
}

func (d *Decoder) extractLine() (Frame, bool, bool) {
	start := max(d.scan, d.off)
	i := bytes.IndexByte(d.buf[start:], '\n')
	if i < 0 {
		d.scan = len(d.buf)
		return Frame{}, false, false
	}
	end := start + i
	line := bytes.Clone(d.buf[d.off:end])
	d.off = end + 1
	d.scan = d.off
	return Frame{Mode: ModeNDJSON, Raw: line}, true, true
}

var eventSeparators = [][]byte{
	[]byte("\r\n\r\n"),
	[]byte("\n\n"),
	[]byte("\r\r"),
}

// longestSeparator bounds how far back a partial separator can start.
const longestSeparator = 4

func (d *Decoder) extractEvent() (Frame, bool, bool) {
	start := max(d.scan, d.off)
	window := d.buf[start:]

	at, sepLen := -1, 0
	for _, sep := range eventSeparators {
		i := bytes.Index(window, sep)
		if i >= 0 && (at < 0 || i < at) {
			at, sepLen = i, len(sep)
		}
	}
	if at < 0 {
		d.scan = max(d.off, len(d.buf)-(longestSeparator-1))
		return Frame{}, false, false
	}

	end := start + at
	block := d.buf[d.off:end]
	d.off = end + sepLen
	d.scan = d.off

	ev, ok := ParseEvent(string(block))
	if !ok {
		d.logger.Debug("discarding event without data", "bytes", len(block))
		if d.onDiscard != nil {
			d.onDiscard(bytes.Clone(block))
		}
		return Frame{}, true, false
	}
	if ev.Data == doneSentinel {
		return Frame{}, true, false
	}
	return Frame{Mode: ModeEventStream, Raw: []byte(ev.Data), Event: &ev}, true, true
}
