package queue

import (
	"fmt"
	"strings"
	"time"
)

// Status is the journalled state of one artifact.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusTimedOut       Status = "timed_out"
	StatusHalted         Status = "halted"
	StatusDigestMismatch Status = "digest_mismatch"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusTimedOut,
	StatusHalted,
	StatusDigestMismatch,
}

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", value)
}

// Outstanding reports whether an artifact in this status still needs work.
func (s Status) Outstanding() bool {
	return s != StatusCompleted
}

// Item is one journalled artifact.
type Item struct {
	Key        string
	Filename   string
	Status     Status
	Attempts   int
	LastMirror string
	LastError  string
	ErrorKind  string
	Bytes      int64
	UpdatedAt  time.Time
}

// Entry names an artifact to track.
type Entry struct {
	Key      string
	Filename string
}

// Run is one journalled invocation of the run command.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Passes       int
	Verified     int
	DigestFailed int
	Pending      int
	ChainIntact  bool
	Error        string
}
