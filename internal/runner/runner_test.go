package runner_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"fetchledger/internal/config"
	"fetchledger/internal/faults"
	"fetchledger/internal/ledger"
	"fetchledger/internal/notifications"
	"fetchledger/internal/queue"
	"fetchledger/internal/runner"
	"fetchledger/internal/scheduler"
	"fetchledger/internal/testsupport"
)

type manifestEntry struct {
	Key      string `yaml:"key"`
	Filename string `yaml:"filename"`
	Size     int64  `yaml:"size"`
	SHA256   string `yaml:"sha256"`
}

type env struct {
	cfg      *config.Config
	srv      *testsupport.ArtifactServer
	manifest string
	entries  []manifestEntry
	notifier *recordingNotifier
}

func newEnv(t *testing.T, n int, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	srv := testsupport.NewArtifactServer(t)
	manifest := filepath.Join(t.TempDir(), "debian.yaml")
	opts = append([]testsupport.ConfigOption{
		testsupport.WithSeeds(srv.URL),
		testsupport.WithPoolSize(2),
		testsupport.WithCatalogSource("debian", config.SourceKindManifest, manifest),
	}, opts...)
	e := &env{
		cfg:      testsupport.NewConfig(t, opts...),
		srv:      srv,
		manifest: manifest,
		notifier: &recordingNotifier{},
	}
	for i := 0; i < n; i++ {
		e.add(t, fmt.Sprintf("pkg%02d", i), 2048+i*100)
	}
	return e
}

func (e *env) add(t *testing.T, key string, size int) manifestEntry {
	t.Helper()
	data := testsupport.Payload(key, size)
	entry := manifestEntry{Key: key, Filename: "pool/main/" + key + ".deb", Size: int64(size), SHA256: testsupport.Digest(data)}
	e.srv.Add(entry.Filename, data)
	e.entries = append(e.entries, entry)
	e.writeManifest(t)
	return entry
}

func (e *env) writeManifest(t *testing.T) {
	t.Helper()
	data, err := yaml.Marshal(map[string]any{"artifacts": e.entries})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(e.manifest, data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func (e *env) run(t *testing.T, opts runner.Options) (*runner.Summary, error) {
	t.Helper()
	opts.Notifier = e.notifier
	opts.SkipPreflight = true
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return runner.New(e.cfg, opts).Run(ctx)
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []notifications.RunSummary
	broken    []string
	errs      []error
}

func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, s notifications.RunSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, s)
	return nil
}

func (n *recordingNotifier) NotifyChainBroken(_ context.Context, path string, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broken = append(n.broken, path)
	return nil
}

func (n *recordingNotifier) NotifyError(_ context.Context, err error, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func TestRunDownloadsAndRecordsEverything(t *testing.T) {
	e := newEnv(t, 5)
	summary, err := e.run(t, runner.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Complete() || summary.Verified != 5 || summary.Passes != 1 || summary.Bytes <= 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.RunID == "" {
		t.Fatal("expected a run id")
	}

	var rows int
	if _, err := ledger.ReplayFile(e.cfg.Paths.LedgerFile, func(ledger.Row) error { rows++; return nil }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rows != 5 {
		t.Fatalf("expected 5 rows, got %d", rows)
	}
	dest := filepath.Join(e.cfg.Paths.DownloadDir, "debian", e.entries[0].Filename)
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected artifact at %s: %v", dest, err)
	}

	journal := testsupport.MustOpenJournal(t, e.cfg)
	stats, err := journal.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats[queue.StatusCompleted] != 5 {
		t.Fatalf("unexpected journal stats %v", stats)
	}
	last, err := journal.LastRun(context.Background())
	if err != nil || last == nil || last.ID != summary.RunID || last.Verified != 5 || !last.ChainIntact {
		t.Fatalf("unexpected journalled run %+v %v", last, err)
	}
	if len(e.notifier.completed) != 1 || e.notifier.completed[0].Verified != 5 {
		t.Fatalf("expected a completion notification, got %+v", e.notifier.completed)
	}
}

func TestFailedArtifactsRetryInLaterPasses(t *testing.T) {
	e := newEnv(t, 3, testsupport.WithMaxPasses(3))
	e.srv.FailNext(e.entries[1].Filename, 1)

	summary, err := e.run(t, runner.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Passes != 2 || !summary.Complete() {
		t.Fatalf("expected completion in two passes, got %+v", summary)
	}
	if got := e.srv.Requests(e.entries[1].Filename); got != 2 {
		t.Fatalf("expected 2 requests for the flaky artifact, got %d", got)
	}
}

func TestPersistentDigestFailureStaysPending(t *testing.T) {
	e := newEnv(t, 3, testsupport.WithMaxPasses(2))
	bad := e.entries[2]
	e.srv.Corrupt(bad.Filename, true)

	summary, err := e.run(t, runner.Options{Finalize: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Verified != 2 || summary.Pending != 1 || summary.DigestFailed != 1 || summary.Passes != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Finalized {
		t.Fatal("a ledger with pending artifacts must not be finalized")
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Key != bad.Key || summary.Failures[0].Kind != scheduler.UnitDigestMismatch {
		t.Fatalf("unexpected failures %+v", summary.Failures)
	}

	item, err := testsupport.MustOpenJournal(t, e.cfg).Get(context.Background(), bad.Key)
	if err != nil || item == nil {
		t.Fatalf("journal lookup: %+v %v", item, err)
	}
	if item.Status != queue.StatusDigestMismatch || item.Attempts != 2 || item.ErrorKind != string(faults.KindDigest) {
		t.Fatalf("unexpected journal row %+v", item)
	}
}

func TestResumeSkipsRecordedAndFinalizes(t *testing.T) {
	e := newEnv(t, 3)
	if _, err := e.run(t, runner.Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := e.srv.Requests(e.entries[0].Filename)

	summary, err := e.run(t, runner.Options{Finalize: true})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Passes != 0 || summary.Verified != 3 || !summary.Finalized {
		t.Fatalf("unexpected resumed summary %+v", summary)
	}
	if e.srv.Requests(e.entries[0].Filename) != before {
		t.Fatal("recorded artifacts must not be fetched again")
	}

	e.add(t, "late", 512)
	_, err = e.run(t, runner.Options{})
	if !errors.Is(err, ledger.ErrFinalized) {
		t.Fatalf("expected ErrFinalized for new work on a sealed ledger, got %v", err)
	}
}

func TestBrokenChainIsReported(t *testing.T) {
	e := newEnv(t, 2)
	if _, err := e.run(t, runner.Options{}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(e.cfg.Paths.LedgerFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(string(data), "\n")
	last := lines[1][len(lines[1])-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	lines[1] = lines[1][:len(lines[1])-1] + string(flipped)
	if err := os.WriteFile(e.cfg.Paths.LedgerFile, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := e.run(t, runner.Options{})
	if !errors.Is(err, faults.ErrChainCorruption) {
		t.Fatalf("expected chain corruption, got %v", err)
	}
	var chainErr *ledger.ChainError
	if !errors.As(err, &chainErr) || chainErr.Row != 1 {
		t.Fatalf("expected a ChainError at row 1, got %v", err)
	}
	if summary == nil || summary.ChainIntact || summary.Complete() {
		t.Fatalf("expected a broken-chain summary, got %+v", summary)
	}
	if len(e.notifier.broken) != 1 || e.notifier.broken[0] != e.cfg.Paths.LedgerFile {
		t.Fatalf("expected a chain notification, got %v", e.notifier.broken)
	}
}

func TestSecondRunIsLockedOut(t *testing.T) {
	e := newEnv(t, 1)
	lock := flock.New(e.cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer lock.Unlock()

	if _, err := e.run(t, runner.Options{}); !errors.Is(err, runner.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestMissingMirrorsIsConfigurationError(t *testing.T) {
	e := newEnv(t, 1)
	e.cfg.Mirrors.Seeds = nil
	if _, err := e.run(t, runner.Options{}); !errors.Is(err, faults.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStopLeavesWorkPending(t *testing.T) {
	e := newEnv(t, 8, testsupport.WithPoolSize(1))
	e.cfg.Scheduler.ShutdownTimeout = 2
	e.srv.SetDelay(100 * time.Millisecond)

	var r *runner.Runner
	opts := runner.Options{
		Notifier:      e.notifier,
		SkipPreflight: true,
		OnPass: func(pass int, s *scheduler.Scheduler) {
			go func() {
				time.Sleep(150 * time.Millisecond)
				_ = r.Stop()
			}()
		},
	}
	r = runner.New(e.cfg, opts)
	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Interrupted || summary.Pending == 0 || summary.Passes != 1 {
		t.Fatalf("expected an interrupted run with pending work, got %+v", summary)
	}
	if len(e.notifier.completed) != 0 {
		t.Fatal("an interrupted run must not announce completion")
	}

	resumed, err := e.run(t, runner.Options{})
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if !resumed.Complete() || resumed.Verified != 8 {
		t.Fatalf("expected the next run to finish the job, got %+v", resumed)
	}
}

func TestTogglePauseWithoutPass(t *testing.T) {
	e := newEnv(t, 0)
	r := runner.New(e.cfg, runner.Options{Notifier: e.notifier})
	if state := r.TogglePause(); state != scheduler.Stopped {
		t.Fatalf("expected stopped with no active pass, got %s", state)
	}
}
