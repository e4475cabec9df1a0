package replay

import (
	"context"
	"io"
	"iter"
	"log/slog"

	"mercator-hq/llmtap/pkg/capture"
	"mercator-hq/llmtap/pkg/clock"
)

// Option configures a Sequence.
type Option func(*Sequence)

// WithClock sets the clock that times the delays.
func WithClock(clk clock.Clock) Option {
	return func(s *Sequence) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sequence) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Sequence is the replay of one capture at one speed. Each Player or
// Chunks call starts the replay from the beginning.
type Sequence struct {
	capture *capture.Capture
	steps   []Step
	speed   float64
	clock   clock.Clock
	logger  *slog.Logger
}

// New plans the replay of c at speed.
func New(c *capture.Capture, speed float64, opts ...Option) (*Sequence, error) {
	steps, err := Plan(c, speed)
	if err != nil {
		return nil, err
	}
	s := &Sequence{
		capture: c,
		steps:   steps,
		speed:   speed,
		clock:   clock.New(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "replay", "capture_id", c.ID)
	return s, nil
}

// Steps returns the planned schedule.
func (s *Sequence) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Player returns a new cursor positioned before the first chunk.
func (s *Sequence) Player() *Player {
	return &Player{steps: s.steps, clock: s.clock}
}

// Chunks yields the chunks on schedule. It stops with ctx's error when
// ctx is cancelled. Breaking out of the loop leaves no timer running.
func (s *Sequence) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		p := s.Player()
		for {
			chunk, err := p.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Player walks a schedule one chunk at a time.
type Player struct {
	steps []Step
	clock clock.Clock
	next  int
	err   error
}

// Next waits for the delay of the next step, measured from this call,
// and returns its chunk. It returns io.EOF after the last chunk. When
// ctx ends first the pending timer is stopped and ctx's error is
// returned; the player is finished in both cases.
func (p *Player) Next(ctx context.Context) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		p.err = err
		return nil, err
	}
	if p.next >= len(p.steps) {
		p.err = io.EOF
		return nil, io.EOF
	}

	step := p.steps[p.next]
	if step.Delay > 0 {
		t := p.clock.NewTimer(step.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			p.err = ctx.Err()
			return nil, p.err
		case <-t.C():
		}
	}
	p.next++
	return step.Chunk, nil
}

// Remaining returns the number of chunks not yet emitted.
func (p *Player) Remaining() int {
	if p.err != nil {
		return 0
	}
	return len(p.steps) - p.next
}
