package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"fetchledger/internal/catalog"
	"fetchledger/internal/config"
	"fetchledger/internal/faults"
	"fetchledger/internal/fileutil"
	"fetchledger/internal/ledger"
	"fetchledger/internal/logging"
	"fetchledger/internal/mirrors"
	"fetchledger/internal/notifications"
	"fetchledger/internal/preflight"
	"fetchledger/internal/queue"
	"fetchledger/internal/scheduler"
	"fetchledger/internal/transfer"
)

// ErrAlreadyRunning is returned when another run holds the state directory lock.
var ErrAlreadyRunning = errors.New("another fetchledger run is using this state directory")

// Options configures a Runner.
type Options struct {
	// Finalize seals the ledger when nothing is left pending.
	Finalize      bool
	SkipPreflight bool
	Notifier      notifications.Service
	// Client overrides the HTTP client built from the transfer settings.
	Client *http.Client
	Logger *slog.Logger
	// OnPass is called with each pass's scheduler before it starts, so a
	// caller can attach a progress monitor.
	OnPass func(pass int, s *scheduler.Scheduler)
}

// Runner executes fetch runs for one configuration.
type Runner struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	notifier notifications.Service
	client   *http.Client

	mu       sync.Mutex
	current  *scheduler.Scheduler
	stopping bool
}

// New builds a Runner.
func New(cfg *config.Config, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	client := opts.Client
	if client == nil {
		client = transfer.NewClient(transfer.ClientOptions{
			ConnectTimeout: time.Duration(cfg.Transfer.ConnectTimeout) * time.Second,
			Logger:         logger,
		})
	}
	return &Runner{
		cfg:      cfg,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "runner"),
		notifier: notifier,
		client:   client,
	}
}

// Run executes passes until every artifact is recorded, the pass budget is
// spent, or the run is stopped. The summary is returned even when err is set,
// as far as it was built.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := r.cfg
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)
	started := time.Now()
	summary := &Summary{RunID: runID, LedgerPath: cfg.Paths.LedgerFile, ChainIntact: true}

	artifacts, err := r.loadCatalog(ctx)
	if err != nil {
		return summary, err
	}
	summary.Total = len(artifacts)

	l, err := ledger.Open(cfg.Paths.LedgerFile, ledger.Options{Logger: logger})
	if err != nil {
		if errors.Is(err, faults.ErrChainCorruption) {
			summary.ChainIntact = false
			summary.ChainError = err
			logging.ErrorWithContext(logger, "ledger chain is broken", "chain_broken",
				logging.Error(err),
				logging.String(logging.FieldErrorKind, string(faults.KindChain)),
				logging.String(logging.FieldImpact, "prior verification records are void"),
				logging.String(logging.FieldErrorHint, "delete the ledger and restart the run"),
			)
			if nerr := r.notifier.NotifyChainBroken(context.WithoutCancel(ctx), cfg.Paths.LedgerFile, err); nerr != nil {
				logger.Warn("chain notification failed", logging.Error(nerr))
			}
		}
		return summary, err
	}
	defer func() {
		if err := l.Close(); err != nil {
			logger.Warn("failed to close ledger", logging.Error(err))
		}
	}()

	pending := pendingArtifacts(artifacts, l)
	if len(pending) > 0 && l.Finalized() {
		return summary, fmt.Errorf("%w: %d artifacts are not recorded", ledger.ErrFinalized, len(pending))
	}

	pool, err := r.loadMirrors(ctx)
	if err != nil {
		return summary, err
	}
	if pool.Len() == 0 && len(pending) > 0 {
		return summary, faults.Wrap(faults.ErrConfiguration, "runner", "load mirrors",
			"no usable mirrors; set mirrors.seeds or mirrors.list_url", mirrors.ErrNoMirrors)
	}
	defer func() {
		if err := pool.Save(); err != nil {
			logger.Warn("failed to save mirror lists", logging.Error(err))
		}
	}()

	journal, err := queue.Open(cfg.Paths.JournalFile)
	if err != nil {
		return summary, fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()
	if err := r.prepareJournal(ctx, journal, runID, started, artifacts, l); err != nil {
		return summary, err
	}

	if !r.opts.SkipPreflight && len(pending) > 0 {
		if err := r.preflight(ctx, pending, pool); err != nil {
			r.finishJournal(ctx, journal, summary, err)
			return summary, err
		}
	}

	logger.Info("run started",
		logging.Int("artifacts", len(artifacts)),
		logging.Int("recorded", l.Len()),
		logging.Int("pending", len(pending)),
		logging.Int("mirrors", pool.Len()),
	)

	runErr := r.passes(ctx, logger, artifacts, l, pool, journal, summary)

	summary.Verified, summary.Pending = countRecorded(artifacts, l)
	summary.Finalized = l.Finalized()
	if runErr == nil && r.opts.Finalize && summary.Pending == 0 && !l.Finalized() {
		if _, err := l.Finalize(); err != nil {
			runErr = fmt.Errorf("finalize ledger: %w", err)
		} else {
			summary.Finalized = true
			logger.Info("ledger finalized", logging.Int("rows", l.Len()))
		}
	}
	summary.Duration = time.Since(started)

	r.finishJournal(ctx, journal, summary, runErr)
	summary.log(logger)

	notifyCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if nerr := r.notifier.NotifyError(notifyCtx, runErr, "run"); nerr != nil {
			logger.Warn("error notification failed", logging.Error(nerr))
		}
	} else if !summary.Interrupted {
		if nerr := r.notifier.NotifyRunCompleted(notifyCtx, summary.notification()); nerr != nil {
			logger.Warn("run notification failed", logging.Error(nerr))
		}
	}
	return summary, runErr
}

func (r *Runner) passes(ctx context.Context, logger *slog.Logger, artifacts []catalog.Artifact, l *ledger.Ledger, pool *mirrors.Pool, journal *queue.Store, summary *Summary) error {
	observer := &journalObserver{store: journal, ctx: context.WithoutCancel(ctx), logger: logger}
	lastOutcome := make(map[string]scheduler.Outcome)

	defer func() {
		summary.Failures = failuresFrom(artifacts, l, lastOutcome)
		summary.DigestFailed = 0
		for _, f := range summary.Failures {
			if f.Kind == scheduler.UnitDigestMismatch {
				summary.DigestFailed++
			}
		}
	}()

	for pass := 1; pass <= r.cfg.Scheduler.MaxPasses; pass++ {
		if r.isStopping() || ctx.Err() != nil {
			summary.Interrupted = true
			return nil
		}
		source := scheduler.NewSource(artifacts, l.Has)
		if source.Len() == 0 {
			return nil
		}
		if pool.Len() == 0 {
			logging.WarnWithContext(logger, "every mirror is quarantined, stopping early", "mirrors_exhausted",
				logging.Int("pending", source.Len()),
				logging.String(logging.FieldErrorHint, "run `fetchledger mirrors release` or `fetchledger mirrors refresh`"),
			)
			return nil
		}

		passCtx := logging.WithPass(ctx, pass)
		passLogger := logging.WithContext(passCtx, r.logger)
		s := scheduler.New(source, scheduler.Options{
			PoolSize: r.cfg.Scheduler.PoolSize,
			Env: scheduler.Env{
				Mirrors: pool,
				Client:  r.client,
				Transfer: transfer.Options{
					StallTimeout: time.Duration(r.cfg.Transfer.StallTimeout) * time.Second,
					BufferSize:   r.cfg.Transfer.BufferSize,
					UserAgent:    r.cfg.Transfer.UserAgent,
				},
			},
			Ledger:   l,
			Observer: observer,
			Logger:   passLogger,
		})
		if r.opts.OnPass != nil {
			r.opts.OnPass(pass, s)
		}
		passLogger.Info("pass started", logging.Int("pending", source.Len()))
		if err := s.Start(passCtx); err != nil {
			return err
		}
		r.setCurrent(s)
		err := s.Wait(context.Background())
		r.setCurrent(nil)

		summary.Passes = pass
		snap := s.Snapshot()
		summary.Bytes += snap.TotalBytes
		for _, res := range s.Results() {
			lastOutcome[res.Key] = res.Outcome
		}
		passLogger.Info("pass finished",
			logging.Int("completed", snap.Completed),
			logging.Int("failed", snap.Failed),
			logging.Int("parked", snap.Parked),
			logging.Int("not_started", snap.Pending),
			logging.Duration("elapsed", snap.Elapsed.Round(time.Millisecond)),
		)
		if err != nil {
			return err
		}
		if snap.Parked > 0 || snap.Pending > 0 {
			summary.Interrupted = true
			return nil
		}
	}
	return nil
}

// TogglePause pauses the running pass, or resumes it when paused. It reports
// the resulting scheduler state.
func (r *Runner) TogglePause() scheduler.State {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()
	if s == nil {
		return scheduler.Stopped
	}
	if s.Pause() {
		return scheduler.Paused
	}
	if s.Resume() {
		return scheduler.Running
	}
	return s.State()
}

// Stop stops the current pass within the shutdown timeout and prevents any
// further pass. It blocks until the pass has drained.
func (r *Runner) Stop() error {
	r.mu.Lock()
	r.stopping = true
	s := r.current
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Shutdown(time.Duration(r.cfg.Scheduler.ShutdownTimeout) * time.Second)
}

func (r *Runner) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func (r *Runner) setCurrent(s *scheduler.Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = s
	if s != nil && r.stopping {
		go func() { _ = s.Shutdown(time.Duration(r.cfg.Scheduler.ShutdownTimeout) * time.Second) }()
	}
}

func (r *Runner) loadCatalog(ctx context.Context) ([]catalog.Artifact, error) {
	if len(r.cfg.Catalog.Sources) == 0 {
		return nil, faults.Wrap(faults.ErrConfiguration, "runner", "load catalog", "no catalog sources configured", nil)
	}
	sources, err := catalog.FromConfig(r.cfg)
	if err != nil {
		return nil, faults.Wrap(faults.ErrConfiguration, "runner", "load catalog", "", err)
	}
	artifacts, err := sources.Artifacts(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.ErrConfiguration, "runner", "load catalog", "", err)
	}
	return artifacts, nil
}

// LoadMirrors opens the persisted pool for cfg and seeds it from configuration.
func LoadMirrors(cfg *config.Config, logger *slog.Logger) (*mirrors.Pool, error) {
	pool, err := mirrors.Load(mirrors.Options{
		GoodPath:       cfg.Paths.GoodMirrorsFile,
		QuarantinePath: cfg.Paths.QuarantineFile,
		Threshold:      cfg.Mirrors.FailureThreshold,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	if _, err := pool.Seed(cfg.Mirrors.Seeds); err != nil {
		return nil, err
	}
	return pool, nil
}

func (r *Runner) loadMirrors(ctx context.Context) (*mirrors.Pool, error) {
	pool, err := LoadMirrors(r.cfg, r.logger)
	if err != nil {
		return nil, err
	}
	if r.cfg.Mirrors.RefreshOnStart && r.cfg.Mirrors.ListURL != "" {
		if _, err := pool.Refresh(ctx, r.client, r.cfg.Mirrors.ListURL); err != nil {
			logging.WarnWithContext(r.logger, "mirror list refresh failed, using cached list", "mirror_refresh_failed",
				logging.Error(err),
				logging.String("list_url", r.cfg.Mirrors.ListURL),
			)
		}
	}
	return pool, nil
}

func (r *Runner) prepareJournal(ctx context.Context, journal *queue.Store, runID string, started time.Time, artifacts []catalog.Artifact, l *ledger.Ledger) error {
	if reset, err := journal.ResetRunning(ctx); err != nil {
		return err
	} else if reset > 0 {
		r.logger.Info("journal rows left running by an earlier run reset", logging.Int64("count", reset))
	}
	entries := make([]queue.Entry, 0, len(artifacts))
	for _, a := range artifacts {
		entries = append(entries, queue.Entry{Key: a.Key, Filename: a.Filename})
	}
	recorded := make(map[string]bool, l.Len())
	for _, key := range l.Keys() {
		recorded[key] = true
	}
	if _, err := journal.Track(ctx, entries, recorded); err != nil {
		return err
	}
	return journal.BeginRun(ctx, runID, started)
}

func (r *Runner) finishJournal(ctx context.Context, journal *queue.Store, summary *Summary, runErr error) {
	finished := time.Now()
	run := queue.Run{
		ID:           summary.RunID,
		FinishedAt:   &finished,
		Passes:       summary.Passes,
		Verified:     summary.Verified,
		DigestFailed: summary.DigestFailed,
		Pending:      summary.Pending,
		ChainIntact:  summary.ChainIntact,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := journal.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to record run in journal", logging.Error(err))
	}
}

func (r *Runner) preflight(ctx context.Context, pending []catalog.Artifact, pool *mirrors.Pool) error {
	var remaining int64
	for _, a := range pending {
		if a.Size <= 0 {
			continue
		}
		have, err := fileutil.Size(a.Dest)
		if err != nil || have > a.Size {
			have = 0
		}
		remaining += a.Size - have
	}
	good := pool.Good()
	urls := make([]string, 0, len(good))
	for _, e := range good {
		urls = append(urls, e.BaseURL)
	}

	results := preflight.RunAll(ctx, r.cfg, preflight.Inputs{RemainingBytes: remaining, Mirrors: urls, Client: r.client})
	for _, res := range results {
		switch {
		case res.Passed:
			r.logger.Debug("preflight check passed", logging.String("check", res.Name), logging.String("detail", res.Detail))
		case res.Advisory:
			logging.WarnWithContext(r.logger, "preflight check failed", "preflight_warning",
				logging.String("check", res.Name),
				logging.String("detail", res.Detail),
				logging.String(logging.FieldImpact, "the run continues; unreachable mirrors will be quarantined"),
			)
		}
	}
	if blocking := preflight.Blocking(results); len(blocking) > 0 {
		return faults.Wrap(faults.ErrConfiguration, "runner", "preflight",
			fmt.Sprintf("%s: %s", blocking[0].Name, blocking[0].Detail), nil)
	}
	return nil
}

func pendingArtifacts(artifacts []catalog.Artifact, l *ledger.Ledger) []catalog.Artifact {
	var out []catalog.Artifact
	for _, a := range artifacts {
		if !l.Has(a.Key) {
			out = append(out, a)
		}
	}
	return out
}

func countRecorded(artifacts []catalog.Artifact, l *ledger.Ledger) (recorded, pending int) {
	for _, a := range artifacts {
		if l.Has(a.Key) {
			recorded++
		} else {
			pending++
		}
	}
	return recorded, pending
}
