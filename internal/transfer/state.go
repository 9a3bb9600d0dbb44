package transfer

import (
	"sync/atomic"
	"time"
)

// State holds the live counters of one transfer. It is written by the
// goroutine running the transfer and may be read concurrently.
type State struct {
	bytes        atomic.Int64
	resumedFrom  atomic.Int64
	total        atomic.Int64
	started      atomic.Int64
	lastActivity atomic.Int64
	cancelled    atomic.Bool
}

func newState() *State {
	s := &State{}
	s.total.Store(-1)
	return s
}

// Bytes returns the number of bytes present in the destination, including
// bytes carried over from an earlier attempt.
func (s *State) Bytes() int64 { return s.bytes.Load() }

// ResumedFrom returns the offset the current attempt started at.
func (s *State) ResumedFrom() int64 { return s.resumedFrom.Load() }

// Total returns the server-declared total, or -1 when unknown.
func (s *State) Total() int64 { return s.total.Load() }

// Cancelled reports whether Cancel was called.
func (s *State) Cancelled() bool { return s.cancelled.Load() }

// StartTime returns when Run began, or the zero time.
func (s *State) StartTime() time.Time { return loadTime(&s.started) }

// LastActivity returns when bytes last arrived, or the zero time.
func (s *State) LastActivity() time.Time { return loadTime(&s.lastActivity) }

// Elapsed returns the time since Run began.
func (s *State) Elapsed() time.Duration {
	start := s.StartTime()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// Speed returns bytes per second received during this attempt.
func (s *State) Speed() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	received := s.Bytes() - s.ResumedFrom()
	if received < 0 {
		received = 0
	}
	return float64(received) / elapsed
}

func (s *State) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func loadTime(v *atomic.Int64) time.Time {
	ns := v.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
