package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fetchledger/internal/catalog"
	"fetchledger/internal/faults"
	"fetchledger/internal/fileutil"
	"fetchledger/internal/ledger"
	"fetchledger/internal/logging"
)

// State is the scheduler lifecycle position.
type State int32

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrForcedShutdown reports that Shutdown had to interrupt running units.
	ErrForcedShutdown = errors.New("units did not drain before the shutdown timeout and were interrupted")
)

// Ledger records verified artifacts.
type Ledger interface {
	Append(key, filename, digest string) (ledger.Row, error)
}

// Observer is notified around every unit execution. Implementations must be
// safe for concurrent use.
type Observer interface {
	UnitStarted(u *Unit)
	UnitFinished(u *Unit, out Outcome)
}

// Options configures a Scheduler.
type Options struct {
	// PoolSize bounds the number of concurrently running units.
	PoolSize int
	Env      Env
	Ledger   Ledger
	Observer Observer
	Logger   *slog.Logger
}

// Result pairs a unit with the outcome it produced.
type Result struct {
	UnitID  string
	Key     string
	Outcome Outcome
}

// Snapshot is a point-in-time view for progress renderers.
type Snapshot struct {
	State     State
	Active    int
	Parked    int
	Pending   int
	Completed int
	Failed    int
	// TotalBytes counts bytes received during this run, including active units.
	TotalBytes int64
	// Speed is TotalBytes per second of run time.
	Speed   float64
	Elapsed time.Duration
}

// Scheduler runs units from a Source with at most PoolSize in flight.
type Scheduler struct {
	opts   Options
	source *Source
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	started  bool
	stopping bool
	finished bool
	runCtx   context.Context
	force    context.CancelFunc
	active   map[string]*Unit
	parked   []catalog.Artifact

	results       []Result
	completed     int
	failed        int
	finishedBytes int64
	startTime     time.Time
	stopTime      time.Time
	fatal         error

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a stopped scheduler.
func New(source *Source, opts Options) *Scheduler {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	if opts.Env.Logger == nil {
		opts.Env.Logger = logger
	}
	return &Scheduler{
		opts:   opts,
		source: source,
		logger: logger,
		active: make(map[string]*Unit),
		done:   make(chan struct{}),
	}
}

// Start begins pulling units. Cancelling ctx interrupts running units and
// stops the scheduler once they return.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.state = Running
	s.startTime = time.Now()
	s.runCtx, s.force = context.WithCancel(ctx)

	s.logger.Info("scheduler started",
		logging.Int("pool_size", s.opts.PoolSize),
		logging.Int("pending", s.source.Remaining()),
	)
	go s.watch()
	s.fillLocked()
	s.maybeStopLocked()
	return nil
}

func (s *Scheduler) watch() {
	select {
	case <-s.done:
	case <-s.runCtx.Done():
		s.mu.Lock()
		s.stopping = true
		s.cancelActiveLocked()
		s.maybeStopLocked()
		s.mu.Unlock()
	}
}

// Pause cancels running units and parks them. It reports whether the
// scheduler was running.
func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return false
	}
	s.state = Paused
	s.cancelActiveLocked()
	s.logger.Info("scheduler paused", logging.Int("active", len(s.active)))
	return true
}

// Resume re-submits parked units and continues pulling new ones. It reports
// whether the scheduler was paused.
func (s *Scheduler) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused || s.stopping {
		return false
	}
	s.state = Running
	s.logger.Info("scheduler resumed", logging.Int("parked", len(s.parked)))
	s.fillLocked()
	s.maybeStopLocked()
	return true
}

// Shutdown pauses the scheduler and waits up to timeout for running units to
// drain. Units still running after that are interrupted through the run
// context and ErrForcedShutdown is returned once they have returned.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.finished {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	if s.state == Running {
		s.state = Paused
	}
	s.cancelActiveLocked()
	s.maybeStopLocked()
	active := len(s.active)
	s.mu.Unlock()

	s.logger.Info("scheduler shutting down",
		logging.Int("active", active),
		logging.Duration("timeout", timeout),
	)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-timer.C:
	}

	logging.WarnWithContext(s.logger, "units did not drain in time, interrupting", "shutdown_forced",
		logging.Duration("timeout", timeout),
		logging.String(logging.FieldErrorHint, "raise scheduler.shutdown_timeout to let slow units finish their buffer"),
	)
	s.force()
	<-s.done
	return ErrForcedShutdown
}

// Wait blocks until the scheduler stops or ctx ends. It returns the fatal
// error that stopped the run, if any.
func (s *Scheduler) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.done:
		s.wg.Wait()
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the scheduler has stopped.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Err returns the fatal error recorded during the run.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Results returns every dispatched outcome in completion order.
func (s *Scheduler) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.results...)
}

// Snapshot reports live counters.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.finishedBytes
	for _, u := range s.active {
		total += u.Transferred()
	}
	var elapsed time.Duration
	switch {
	case !s.started:
	case s.finished:
		elapsed = s.stopTime.Sub(s.startTime)
	default:
		elapsed = time.Since(s.startTime)
	}
	var speed float64
	if elapsed > 0 {
		speed = float64(total) / elapsed.Seconds()
	}
	return Snapshot{
		State:      s.state,
		Active:     len(s.active),
		Parked:     len(s.parked),
		Pending:    s.source.Remaining(),
		Completed:  s.completed,
		Failed:     s.failed,
		TotalBytes: total,
		Speed:      speed,
		Elapsed:    elapsed,
	}
}

func (s *Scheduler) fillLocked() {
	for s.state == Running && !s.stopping && s.runCtx.Err() == nil && len(s.active) < s.opts.PoolSize {
		var u *Unit
		if len(s.parked) > 0 {
			u = NewUnit(s.parked[0])
			s.parked = s.parked[1:]
		} else if next, ok := s.source.Next(); ok {
			u = next
		} else {
			return
		}
		s.active[u.ID()] = u
		s.wg.Add(1)
		go s.run(u)
	}
}

func (s *Scheduler) cancelActiveLocked() {
	for _, u := range s.active {
		u.Cancel()
	}
}

// maybeStopLocked stops the scheduler once nothing is running and either a
// stop was requested or all work is done.
func (s *Scheduler) maybeStopLocked() {
	if s.finished || len(s.active) > 0 {
		return
	}
	exhausted := s.source.Remaining() == 0 && len(s.parked) == 0
	if !exhausted && !s.stopping {
		return
	}
	s.finished = true
	s.state = Stopped
	s.stopTime = time.Now()
	s.force()
	close(s.done)

	s.logger.Info("scheduler stopped",
		logging.Int("completed", s.completed),
		logging.Int("failed", s.failed),
		logging.Int("parked", len(s.parked)),
		logging.Int("pending", s.source.Remaining()),
		logging.Bool("all_done", exhausted),
	)
}

func (s *Scheduler) run(u *Unit) {
	defer s.wg.Done()

	if s.opts.Observer != nil {
		s.opts.Observer.UnitStarted(u)
	}
	out := u.Execute(s.runCtx, s.opts.Env)
	out = s.dispatch(u, out)
	if s.opts.Observer != nil {
		s.opts.Observer.UnitFinished(u, out)
	}
	s.finish(u, out)
}

// dispatch applies the side effects of an outcome. A ledger failure turns the
// outcome into a failure and stops the run.
func (s *Scheduler) dispatch(u *Unit, out Outcome) Outcome {
	a := u.Artifact()
	logger := s.logger.With(
		logging.String(logging.FieldArtifactKey, a.Key),
		logging.String(logging.FieldUnitID, u.ID()),
	)
	if out.Mirror != "" {
		logger = logger.With(logging.String(logging.FieldMirror, out.Mirror))
	}

	switch out.Kind {
	case UnitCompleted:
		row, err := s.opts.Ledger.Append(a.Key, a.Filename, out.Digest)
		if err != nil {
			out.Kind = UnitFailed
			out.Err = fmt.Errorf("append ledger row for %s: %w", a.Key, err)
			logging.ErrorWithContext(logger, "ledger append failed, stopping run", "ledger_append_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the ledger file and disk; the run cannot record further artifacts"),
			)
			s.setFatal(out.Err)
			return out
		}
		if out.Mirror != "" {
			s.opts.Env.Mirrors.ReportSuccess(out.Mirror)
		}
		logger.Info("artifact verified",
			logging.String("digest", out.Digest),
			logging.String("row_hash", row.Hash),
			logging.Int64("bytes", out.Bytes),
		)
	case UnitDigestMismatch:
		if err := fileutil.RemoveIfExists(a.Dest); err != nil {
			logger.Warn("failed to delete corrupt artifact", logging.Error(err))
		}
		logging.WarnWithContext(logger, "digest mismatch, artifact deleted", "digest_mismatch",
			logging.Error(out.Err),
			logging.String(logging.FieldErrorKind, string(faults.KindDigest)),
		)
		s.reportFailure(logger, out.Mirror)
	case UnitFailed, UnitTimedOut:
		logging.WarnWithContext(logger, "artifact attempt failed", "unit_"+out.Kind.String(),
			logging.Error(out.Err),
			logging.String(logging.FieldErrorKind, string(faults.KindOf(out.Err))),
			logging.Int64(logging.FieldOffset, out.Bytes),
		)
		s.reportFailure(logger, out.Mirror)
	case UnitHalted:
		// Pause and shutdown are our own doing, so the mirror is not charged.
		logger.Debug("unit halted, parked for resume", logging.Int64("bytes", out.Bytes))
	}
	return out
}

func (s *Scheduler) reportFailure(logger *slog.Logger, mirror string) {
	if mirror == "" {
		return
	}
	quarantined, err := s.opts.Env.Mirrors.ReportFailure(mirror)
	if err != nil {
		logger.Warn("failed to persist mirror lists", logging.Error(err))
	}
	if quarantined {
		logging.WarnWithContext(logger, "mirror quarantined", "mirror_quarantined",
			logging.String(logging.FieldImpact, "no further units will use this mirror"),
			logging.String(logging.FieldErrorHint, "run `fetchledger mirrors release` once the mirror recovers"),
		)
	}
}

func (s *Scheduler) setFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.stopping = true
	s.cancelActiveLocked()
}

func (s *Scheduler) finish(u *Unit, out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, u.ID())
	s.finishedBytes += out.Bytes
	s.results = append(s.results, Result{UnitID: u.ID(), Key: u.Artifact().Key, Outcome: out})
	switch out.Kind {
	case UnitCompleted:
		s.completed++
	case UnitHalted:
		s.parked = append(s.parked, u.Artifact())
	default:
		s.failed++
	}
	s.fillLocked()
	s.maybeStopLocked()
}
