package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fetchledger/internal/catalog"
	"fetchledger/internal/checksum"
	"fetchledger/internal/faults"
	"fetchledger/internal/fileutil"
	"fetchledger/internal/logging"
	"fetchledger/internal/transfer"
)

// UnitState is the lifecycle position of a work unit.
type UnitState int32

const (
	UnitPending UnitState = iota
	UnitRunning
	UnitCompleted
	UnitFailed
	UnitTimedOut
	UnitHalted
	// UnitDigestMismatch means every byte arrived but the digest is wrong.
	UnitDigestMismatch
)

func (s UnitState) String() string {
	switch s {
	case UnitPending:
		return "pending"
	case UnitRunning:
		return "running"
	case UnitCompleted:
		return "completed"
	case UnitFailed:
		return "failed"
	case UnitTimedOut:
		return "timed_out"
	case UnitHalted:
		return "halted"
	case UnitDigestMismatch:
		return "digest_mismatch"
	default:
		return fmt.Sprintf("UnitState(%d)", int32(s))
	}
}

// Terminal reports whether the state ends an execution.
func (s UnitState) Terminal() bool {
	return s >= UnitCompleted
}

// ErrAlreadyExecuted is returned in the outcome of a second Execute call.
var ErrAlreadyExecuted = errors.New("work unit already executed")

// Outcome is the tagged result of one execution.
type Outcome struct {
	Kind UnitState
	// Mirror is the base URL the bytes came from; empty when none was used.
	Mirror string
	Digest string
	// Bytes counts the bytes received during this execution.
	Bytes int64
	Err   error
}

// MirrorPool is the slice of mirrors.Pool the scheduler depends on.
type MirrorPool interface {
	Next() (string, error)
	ReportFailure(mirror string) (bool, error)
	ReportSuccess(mirror string)
}

// Env carries the collaborators a unit needs to execute.
type Env struct {
	Mirrors MirrorPool
	Client  *http.Client
	// Transfer is the template for every transfer; ExpectedSize and Logger
	// are filled in per unit.
	Transfer transfer.Options
	Logger   *slog.Logger
}

// Unit fetches and verifies one artifact.
type Unit struct {
	id       string
	artifact catalog.Artifact

	state    atomic.Int32
	executed atomic.Bool

	mu        sync.Mutex
	cancelled bool
	transfer  *transfer.Transfer
	verifier  *checksum.Verifier
}

// NewUnit wraps an artifact in a pending unit with a fresh id.
func NewUnit(artifact catalog.Artifact) *Unit {
	return &Unit{id: uuid.NewString(), artifact: artifact}
}

// ID returns the unit id.
func (u *Unit) ID() string { return u.id }

// Artifact returns the artifact this unit works on.
func (u *Unit) Artifact() catalog.Artifact { return u.artifact }

// State returns the current lifecycle state.
func (u *Unit) State() UnitState { return UnitState(u.state.Load()) }

// Transferred returns the bytes received so far by the active transfer.
func (u *Unit) Transferred() int64 {
	u.mu.Lock()
	t := u.transfer
	u.mu.Unlock()
	if t == nil {
		return 0
	}
	st := t.State()
	return st.Bytes() - st.ResumedFrom()
}

// Cancel asks the unit to stop at the next buffer boundary. A cancelled unit
// finishes as UnitHalted unless it already completed.
func (u *Unit) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled = true
	if u.transfer != nil {
		u.transfer.Cancel()
	}
	if u.verifier != nil {
		u.verifier.Cancel()
	}
}

func (u *Unit) isCancelled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled
}

// Execute runs the unit once. Later calls return ErrAlreadyExecuted.
func (u *Unit) Execute(ctx context.Context, env Env) Outcome {
	if !u.executed.CompareAndSwap(false, true) {
		return Outcome{Kind: UnitFailed, Err: ErrAlreadyExecuted}
	}
	u.state.Store(int32(UnitRunning))
	out := u.execute(ctx, env)
	u.state.Store(int32(out.Kind))
	return out
}

func (u *Unit) execute(ctx context.Context, env Env) Outcome {
	logger := env.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldArtifactKey, u.artifact.Key), logging.String(logging.FieldUnitID, u.id))

	if out, done := u.verifyExisting(ctx, logger); done {
		return out
	}
	if u.isCancelled() || ctx.Err() != nil {
		return Outcome{Kind: UnitHalted, Err: transfer.ErrHalted}
	}

	mirror, err := env.Mirrors.Next()
	if err != nil {
		return Outcome{Kind: UnitFailed, Err: faults.Wrap(faults.ErrNetwork, "scheduler", "select mirror", u.artifact.Key, err)}
	}
	logger = logger.With(logging.String(logging.FieldMirror, mirror))

	opts := env.Transfer
	opts.ExpectedSize = u.artifact.Size
	opts.Logger = logger
	t := transfer.New(env.Client, u.artifact.URL(mirror), u.artifact.Dest, opts)

	u.mu.Lock()
	u.transfer = t
	if u.cancelled {
		t.Cancel()
	}
	u.mu.Unlock()

	runErr := t.Run(ctx)
	received := t.State().Bytes() - t.State().ResumedFrom()
	if runErr != nil {
		kind := UnitFailed
		switch faults.KindOf(runErr) {
		case faults.KindTimeout:
			kind = UnitTimedOut
		case faults.KindHalted:
			kind = UnitHalted
		}
		return Outcome{Kind: kind, Mirror: mirror, Bytes: received, Err: runErr}
	}

	out := u.verify(ctx, logger)
	out.Mirror = mirror
	out.Bytes = received
	return out
}

// verifyExisting checks a local file that already has the catalog size so a
// finished download is not fetched again. It reports done=false when the
// transfer should still run.
func (u *Unit) verifyExisting(ctx context.Context, logger *slog.Logger) (Outcome, bool) {
	if u.artifact.Size <= 0 {
		return Outcome{}, false
	}
	size, err := fileutil.Size(u.artifact.Dest)
	if err != nil || size != u.artifact.Size {
		return Outcome{}, false
	}

	out := u.verify(ctx, logger)
	switch out.Kind {
	case UnitCompleted:
		logger.Debug("local file already complete, skipped transfer")
		return out, true
	case UnitDigestMismatch:
		logger.Info("local file has the expected size but a different digest, downloading again",
			logging.String("actual", out.Digest),
		)
		if err := fileutil.RemoveIfExists(u.artifact.Dest); err != nil {
			return Outcome{Kind: UnitFailed, Err: err}, true
		}
		return Outcome{}, false
	default:
		return out, true
	}
}

func (u *Unit) verify(ctx context.Context, logger *slog.Logger) Outcome {
	v := checksum.NewVerifier(u.artifact.Dest, u.artifact.SHA256)
	u.mu.Lock()
	u.verifier = v
	if u.cancelled {
		v.Cancel()
	}
	u.mu.Unlock()

	result, err := v.Verify(ctx)
	if err != nil {
		return Outcome{Kind: UnitFailed, Err: fmt.Errorf("verify %s: %w", u.artifact.Key, err)}
	}
	switch result.Outcome {
	case checksum.OutcomeMatch:
		logger.Debug("digest verified",
			logging.Int64("bytes", result.Bytes),
			logging.Duration("elapsed", result.Elapsed.Round(time.Millisecond)),
		)
		return Outcome{Kind: UnitCompleted, Digest: result.Actual}
	case checksum.OutcomeMismatch:
		return Outcome{
			Kind:   UnitDigestMismatch,
			Digest: result.Actual,
			Err: faults.Wrap(faults.ErrDigestMismatch, "scheduler", "verify", u.artifact.Key,
				fmt.Errorf("expected %s, got %s", u.artifact.SHA256, result.Actual)),
		}
	default:
		return Outcome{Kind: UnitHalted, Err: transfer.ErrHalted}
	}
}
