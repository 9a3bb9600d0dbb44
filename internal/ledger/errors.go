package ledger

import (
	"errors"
	"fmt"

	"fetchledger/internal/faults"
)

var (
	// ErrFinalized is returned by Append and Finalize on a finalized ledger.
	ErrFinalized = errors.New("ledger is finalized")
	// ErrReservedKey is returned when appending the sentinel key.
	ErrReservedKey = errors.New("artifact key is reserved")
	// ErrDuplicate is returned when a key is already recorded.
	ErrDuplicate = errors.New("artifact key already recorded")
	// ErrLocked is returned when another process holds the ledger lock.
	ErrLocked = errors.New("ledger is locked by another process")
	// ErrExists is returned by Create when the ledger file already exists.
	ErrExists = errors.New("ledger already exists")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("ledger is closed")
)

// ChainError reports the first row whose stored hash does not match the
// recomputed chain, or a structurally invalid row. Row is 1-based and counts
// data rows after the header; Line is the CSV line number.
type ChainError struct {
	Row      int
	Line     int
	Key      string
	Stored   string
	Computed string
	Reason   string
}

func (e *ChainError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ledger chain broken at row %d (line %d): %s", e.Row, e.Line, e.Reason)
	}
	return fmt.Sprintf("ledger chain broken at row %d (line %d, key %q): stored hash %s, computed %s",
		e.Row, e.Line, e.Key, e.Stored, e.Computed)
}

func (e *ChainError) Unwrap() error { return faults.ErrChainCorruption }
