package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// EmptyDigest is the SHA-256 of zero bytes.
const EmptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

const bufferSize = 64 * 1024

// ErrMalformedDigest reports an expected digest that is not 64 hex characters.
var ErrMalformedDigest = errors.New("malformed sha256 digest")

// Outcome classifies a verification run.
type Outcome int

const (
	OutcomeIncomplete Outcome = iota
	OutcomeMatch
	OutcomeMismatch
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeMismatch:
		return "mismatch"
	default:
		return "incomplete"
	}
}

// Result is returned by Verify. Actual is empty when the run was incomplete.
type Result struct {
	Outcome Outcome
	Actual  string
	Bytes   int64
	Elapsed time.Duration
}

// Verifier checks one file against one expected digest. Progress accessors
// may be called from other goroutines while Verify runs.
type Verifier struct {
	path     string
	expected string

	bytes     atomic.Int64
	started   atomic.Int64
	finished  atomic.Int64
	cancelled atomic.Bool
}

// NewVerifier returns a verifier for path. The expected digest is compared
// case-insensitively.
func NewVerifier(path, expected string) *Verifier {
	return &Verifier{path: path, expected: strings.ToLower(strings.TrimSpace(expected))}
}

// ValidDigest reports whether value is 64 hex characters.
func ValidDigest(value string) bool {
	if len(value) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}

// Verify streams the file through SHA-256. Errors are returned only for I/O
// failures and malformed expected digests.
func (v *Verifier) Verify(ctx context.Context) (Result, error) {
	if !ValidDigest(v.expected) {
		return Result{}, fmt.Errorf("%w: %q", ErrMalformedDigest, v.expected)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	v.bytes.Store(0)
	v.finished.Store(0)
	v.started.Store(start.UnixNano())
	defer func() { v.finished.Store(time.Now().UnixNano()) }()

	file, err := os.Open(v.path)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", v.path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, bufferSize)
	for {
		if v.cancelled.Load() || ctx.Err() != nil {
			return Result{Outcome: OutcomeIncomplete, Bytes: v.bytes.Load(), Elapsed: time.Since(start)}, nil
		}
		n, readErr := file.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			v.bytes.Add(int64(n))
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("read %s: %w", v.path, readErr)
		}
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	result := Result{Actual: actual, Bytes: v.bytes.Load(), Elapsed: time.Since(start)}
	if actual == v.expected {
		result.Outcome = OutcomeMatch
	} else {
		result.Outcome = OutcomeMismatch
	}
	return result, nil
}

// Cancel asks a running Verify to stop after the current buffer.
func (v *Verifier) Cancel() {
	v.cancelled.Store(true)
}

// Bytes returns the number of bytes hashed so far.
func (v *Verifier) Bytes() int64 {
	return v.bytes.Load()
}

// Elapsed returns the time spent in the current or last Verify call.
func (v *Verifier) Elapsed() time.Duration {
	started := v.started.Load()
	if started == 0 {
		return 0
	}
	end := v.finished.Load()
	if end == 0 {
		end = time.Now().UnixNano()
	}
	return time.Duration(end - started)
}

// Throughput returns bytes per second over Elapsed.
func (v *Verifier) Throughput() float64 {
	elapsed := v.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(v.Bytes()) / elapsed
}

// File returns the lowercase hex SHA-256 of path.
func File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hasher := sha256.New()
	if _, err := io.CopyBuffer(hasher, file, make([]byte, bufferSize)); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// String returns the lowercase hex SHA-256 of s.
func String(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
