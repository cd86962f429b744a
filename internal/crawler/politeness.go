package crawler

import (
	"context"
	"time"
)

// TimerPacer sleeps for the full delay unless ctx ends first.
type TimerPacer struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPacer) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
