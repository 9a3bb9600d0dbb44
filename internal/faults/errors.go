package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNetwork         = errors.New("network failure")
	ErrSizeMismatch    = errors.New("size mismatch")
	ErrDigestMismatch  = errors.New("digest mismatch")
	ErrChainCorruption = errors.New("chain corruption")
	ErrConfiguration   = errors.New("configuration error")
	ErrTimeout         = errors.New("timeout")
	ErrHalted          = errors.New("halted")
)

// Kind is the short classification recorded in logs and the journal.
type Kind string

const (
	KindNone          Kind = ""
	KindNetwork       Kind = "network"
	KindSizeMismatch  Kind = "size_mismatch"
	KindDigest        Kind = "digest_mismatch"
	KindChain         Kind = "chain_corruption"
	KindConfiguration Kind = "configuration"
	KindTimeout       Kind = "timeout"
	KindHalted        Kind = "halted"
	KindUnknown       Kind = "unknown"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrNetwork
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err by the first marker it wraps. Size mismatches are
// checked before network failures since they are reported as both.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrChainCorruption):
		return KindChain
	case errors.Is(err, ErrDigestMismatch):
		return KindDigest
	case errors.Is(err, ErrSizeMismatch):
		return KindSizeMismatch
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrHalted):
		return KindHalted
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// IsFatal reports whether err must stop the pipeline instead of being recorded
// against a single artifact.
func IsFatal(err error) bool {
	return errors.Is(err, ErrChainCorruption) || errors.Is(err, ErrConfiguration)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
