// Package replay re-emits a recorded response body chunk by chunk with
// the original inter-chunk gaps scaled by a speed factor.
package replay

import (
	"errors"
	"fmt"
	"math"
	"time"

	"mercator-hq/llmtap/pkg/capture"
)

var (
	// ErrNoResponse is returned for captures that never received a head.
	ErrNoResponse = errors.New("replay: capture has no response")
	// ErrInvalidSpeed is returned for a speed that is not a positive
	// finite number.
	ErrInvalidSpeed = errors.New("replay: speed must be a positive finite number")
)

// Step is one chunk and the delay to wait before emitting it.
type Step struct {
	Delay time.Duration
	Chunk []byte
}

// Plan derives the replay schedule of c. The delay before chunk i is the
// gap between its arrival and the previous chunk's arrival divided by
// speed; the first chunk is measured from the request start. Negative
// gaps become zero.
func Plan(c *capture.Capture, speed float64) ([]Step, error) {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	if c == nil || c.Response == nil {
		return nil, ErrNoResponse
	}
	r := c.Response
	if len(r.BodyChunks) != len(r.ChunkTimes) {
		return nil, fmt.Errorf("%w: %d chunks but %d chunk times", capture.ErrInvalid, len(r.BodyChunks), len(r.ChunkTimes))
	}

	steps := make([]Step, len(r.BodyChunks))
	prev := c.Request.StartTime
	for i, chunk := range r.BodyChunks {
		gap := r.ChunkTimes[i].Sub(prev)
		if gap < 0 {
			gap = 0
		}
		steps[i] = Step{
			Delay: time.Duration(float64(gap) / speed),
			Chunk: chunk,
		}
		prev = r.ChunkTimes[i]
	}
	return steps, nil
}

// Total returns the sum of all delays.
func Total(steps []Step) time.Duration {
	var d time.Duration
	for _, s := range steps {
		d += s.Delay
	}
	return d
}
