package stream

import (
	"context"
	"time"
)

// Pacer suspends the calling flow between envelopes. Pause returns early
// with ctx.Err() when the flow is cancelled.
type Pacer interface {
	Pause(ctx context.Context, d time.Duration) error
}

// Pacing scales every pause by Scale. A zero scale disables pauses, which
// is what tests and the test profile use.
type Pacing struct {
	Scale float64
}

func (p Pacing) Pause(ctx context.Context, d time.Duration) error {
	scaled := time.Duration(float64(d) * p.Scale)
	if scaled <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(scaled)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
