package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"fetchledger/internal/checksum"
	"fetchledger/internal/logging"
)

// Options configures Create and Resume.
type Options struct {
	// Now supplies row timestamps; defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Ledger is an open, locked ledger file.
type Ledger struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *csv.Writer
	lock      *flock.Flock
	lastHash  string
	recorded  map[string]Row
	order     []string
	finalized bool
	broken    error
	closed    bool
	now       func() time.Time
	logger    *slog.Logger
}

// LockPath returns the lock file guarding path.
func LockPath(path string) string { return path + ".lock" }

// Create starts a new ledger at path with only the header line.
func Create(path string, opts Options) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	lock, err := acquire(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		_ = lock.Unlock()
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	if _, err := file.WriteString(Header + "\n"); err != nil {
		_ = file.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("write ledger header: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("sync ledger header: %w", err)
	}

	l := newLedger(path, file, lock, opts)
	l.logger.Info("ledger created", logging.String("path", path))
	return l, nil
}

// Resume opens an existing ledger, re-validating the whole chain. A broken
// chain returns a *ChainError and leaves the file untouched. A finalized
// ledger resumes read-only.
func Resume(path string, opts Options) (*Ledger, error) {
	lock, err := acquire(path)
	if err != nil {
		return nil, err
	}

	recorded := make(map[string]Row)
	var order []string
	summary, err := ReplayFile(path, func(row Row) error {
		if _, dup := recorded[row.Key]; !dup {
			order = append(order, row.Key)
		}
		recorded[row.Key] = row
		return nil
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open ledger for append: %w", err)
	}
	if err := terminateLastLine(file); err != nil {
		_ = file.Close()
		_ = lock.Unlock()
		return nil, err
	}

	l := newLedger(path, file, lock, opts)
	l.lastHash = summary.LastHash
	l.recorded = recorded
	l.order = order
	l.finalized = summary.Finalized
	l.logger.Info("ledger resumed",
		logging.String("path", path),
		logging.Int("rows", summary.Rows),
		logging.Bool("finalized", summary.Finalized),
	)
	return l, nil
}

// Open resumes path when it exists and creates it otherwise.
func Open(path string, opts Options) (*Ledger, error) {
	if _, err := os.Stat(path); err == nil {
		return Resume(path, opts)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat ledger: %w", err)
	}
	return Create(path, opts)
}

// terminateLastLine restores the newline a torn write may have dropped, so the
// next row starts on its own line.
func terminateLastLine(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read ledger tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := file.WriteString("\n"); err != nil {
		return fmt.Errorf("terminate last ledger row: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

func acquire(path string) (*flock.Flock, error) {
	lock := flock.New(LockPath(path))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return lock, nil
}

func newLedger(path string, file *os.File, lock *flock.Flock, opts Options) *Ledger {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		path:     path,
		file:     file,
		writer:   csv.NewWriter(file),
		lock:     lock,
		lastHash: SeedHash,
		recorded: make(map[string]Row),
		now:      now,
		logger:   logging.NewComponentLogger(opts.Logger, "ledger"),
	}
}

// Append records a verified artifact. filename is logged only; it is not part
// of the row.
func (l *Ledger) Append(key, filename, digest string) (Row, error) {
	key = strings.TrimSpace(key)
	digest = strings.ToLower(strings.TrimSpace(digest))
	switch {
	case key == "":
		return Row{}, errors.New("artifact key is empty")
	case key == SentinelKey:
		return Row{}, fmt.Errorf("%w: %s", ErrReservedKey, key)
	case !checksum.ValidDigest(digest):
		return Row{}, fmt.Errorf("%w: %q", checksum.ErrMalformedDigest, digest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writableLocked(); err != nil {
		return Row{}, err
	}
	if _, dup := l.recorded[key]; dup {
		return Row{}, fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	row, err := l.appendLocked(key, digest)
	if err != nil {
		return Row{}, err
	}
	l.recorded[key] = row
	l.order = append(l.order, key)
	l.logger.Debug("ledger row appended",
		logging.String(logging.FieldArtifactKey, key),
		logging.String("filename", filename),
		logging.String("row_hash", row.Hash),
	)
	return row, nil
}

// Finalize appends the end-of-ledger row. Later appends fail with ErrFinalized.
func (l *Ledger) Finalize() (Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writableLocked(); err != nil {
		return Row{}, err
	}
	row, err := l.appendLocked(SentinelKey, checksum.EmptyDigest)
	if err != nil {
		return Row{}, err
	}
	l.finalized = true
	l.logger.Info("ledger finalized", logging.Int("rows", len(l.order)), logging.String("row_hash", row.Hash))
	return row, nil
}

func (l *Ledger) writableLocked() error {
	switch {
	case l.closed:
		return ErrClosed
	case l.broken != nil:
		return fmt.Errorf("ledger unusable after write failure: %w", l.broken)
	case l.finalized:
		return ErrFinalized
	}
	return nil
}

// appendLocked writes and syncs one row. A failed write leaves the on-disk
// tail unknown, so the ledger refuses further appends.
func (l *Ledger) appendLocked(key, digest string) (Row, error) {
	timestamp := l.now().UTC().Format(TimestampLayout)
	row := Row{
		Key:       key,
		Digest:    digest,
		Timestamp: timestamp,
		Hash:      RowHash(l.lastHash, key, digest, timestamp),
	}
	if err := l.writer.Write(row.record()); err != nil {
		l.broken = err
		return Row{}, fmt.Errorf("write ledger row: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.broken = err
		return Row{}, fmt.Errorf("flush ledger row: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.broken = err
		return Row{}, fmt.Errorf("sync ledger row: %w", err)
	}
	l.lastHash = row.Hash
	return row, nil
}

// Recorded returns a copy of the rows by key.
func (l *Ledger) Recorded() map[string]Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Row, len(l.recorded))
	for k, v := range l.recorded {
		out[k] = v
	}
	return out
}

// Has reports whether key is recorded.
func (l *Ledger) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.recorded[key]
	return ok
}

// Keys returns recorded keys in append order.
func (l *Ledger) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// Len returns the number of recorded artifacts.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// LastHash returns the hash the next row will chain from.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Finalized reports whether the sentinel row is present.
func (l *Ledger) Finalized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalized
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Close releases the file and the lock.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.writer.Flush()
	err := errors.Join(l.writer.Error(), l.file.Close(), l.lock.Unlock())
	if err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}
