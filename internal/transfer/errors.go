package transfer

import (
	"fmt"

	"fetchledger/internal/faults"
)

var (
	// ErrStalled is returned when no forward progress occurred within the stall window.
	ErrStalled = fmt.Errorf("%w: transfer made no progress within the stall window", faults.ErrTimeout)
	// ErrHalted is returned when the transfer was cancelled before completion.
	ErrHalted = fmt.Errorf("%w: transfer cancelled", faults.ErrHalted)
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

func (e *StatusError) Unwrap() error { return faults.ErrNetwork }

// SizeMismatchError reports a completed body whose length disagrees with the
// declared total.
type SizeMismatchError struct {
	URL      string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("GET %s: received %d bytes, expected %d", e.URL, e.Actual, e.Expected)
}

func (e *SizeMismatchError) Unwrap() []error {
	return []error{faults.ErrSizeMismatch, faults.ErrNetwork}
}
