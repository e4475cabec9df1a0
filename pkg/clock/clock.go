// Package clock abstracts time so capture timestamps and replay pacing can be
// driven by a fake clock in tests.
package clock

import "time"

// Clock is the time source used by the recorder and the replay engine.
type Clock interface {
	// Now returns the current time. Real clocks carry a monotonic reading.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
	// NewTimer returns a timer that fires once after d.
	NewTimer(d time.Duration) Timer
}

// Timer is a single-shot timer that can be stopped before it fires.
type Timer interface {
	// C delivers the fire time.
	C() <-chan time.Time
	// Stop prevents the timer from firing. It reports whether the timer
	// was stopped before it fired.
	Stop() bool
}

// Real delegates to the standard time package.
type Real struct{}

// New returns the wall clock.
func New() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (Real) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }
