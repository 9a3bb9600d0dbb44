package scheduler

import (
	"context"
	"time"
)

// Monitor polls s every interval and hands the snapshot to render. It renders
// a final snapshot and returns when the scheduler stops or ctx ends.
func Monitor(ctx context.Context, s *Scheduler, interval time.Duration, render func(Snapshot)) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			render(s.Snapshot())
			return
		case <-s.Done():
			render(s.Snapshot())
			return
		case <-ticker.C:
			render(s.Snapshot())
		}
	}
}
