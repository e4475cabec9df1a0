package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress for long-running operations.
type ProgressReporter interface {
	Start(total int64)
	Update(current int64)
	Finish()
	Error(err error)
}

const barWidth = 40

// SimpleProgress is a single-line text progress bar. The replay command
// draws it on stderr while chunks go to stdout.
//
// A line is redrawn only when the count changes, and nothing is drawn
// after Error.
type SimpleProgress struct {
	mu      sync.Mutex
	w       io.Writer
	unit    string
	total   int64
	current int64
	drawn   int64
	started time.Time
	failed  bool
}

// NewProgressReporter creates a progress reporter that writes to w and
// counts unit (e.g. "chunks"). If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer, unit string) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	if unit == "" {
		unit = "items"
	}
	return &SimpleProgress{w: w, unit: unit, drawn: -1}
}

// Start resets the bar for total items.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = max(total, 0)
	p.current = 0
	p.drawn = -1
	p.failed = false
	p.started = time.Now()
	p.draw(false)
}

// Update sets the current count. Values beyond the total are clamped.
func (p *SimpleProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = min(max(current, 0), p.total)
	p.draw(false)
}

// Finish fills the bar and ends the line with the elapsed time.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return
	}
	p.current = p.total
	p.draw(true)
}

// Error ends the bar with err.
func (p *SimpleProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed = true
	fmt.Fprintf(p.w, "\n✗ Error: %v\n", err)
}

func (p *SimpleProgress) draw(final bool) {
	if p.total == 0 || p.failed {
		return
	}
	if !final && p.current == p.drawn {
		return
	}
	p.drawn = p.current

	filled := int(p.current * barWidth / p.total)
	percent := float64(p.current) / float64(p.total) * 100
	fmt.Fprintf(p.w, "\rProgress: [%s%s] %.1f%% (%d/%d %s)",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled),
		percent, p.current, p.total, p.unit)
	if final {
		fmt.Fprintf(p.w, " in %s\n", time.Since(p.started).Round(time.Millisecond))
	}
}
