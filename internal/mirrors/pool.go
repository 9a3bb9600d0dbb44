package mirrors

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"fetchledger/internal/fileutil"
	"fetchledger/internal/logging"
)

// ErrNoMirrors is returned by Next when every mirror is quarantined.
var ErrNoMirrors = errors.New("no mirrors available")

const defaultThreshold = 3

// Entry is one mirror in rotation.
type Entry struct {
	BaseURL  string
	Failures int
}

// Pool hands out mirrors round-robin.
type Pool struct {
	mu             sync.Mutex
	good           []Entry
	quarantine     []string
	index          int
	threshold      int
	goodPath       string
	quarantinePath string
	logger         *slog.Logger
}

// Options configures a Pool.
type Options struct {
	GoodPath       string
	QuarantinePath string
	Threshold      int
	Logger         *slog.Logger
}

// New returns an in-memory pool seeded with urls. Nothing is persisted unless
// Options carries file paths.
func New(urls []string, opts Options) *Pool {
	p := newPool(opts)
	for _, u := range urls {
		p.addGoodLocked(u)
	}
	return p
}

// Load reads the good and quarantine lists from disk. Missing files yield an
// empty pool.
func Load(opts Options) (*Pool, error) {
	p := newPool(opts)
	if opts.GoodPath != "" {
		lines, err := fileutil.ReadLines(opts.GoodPath)
		if err != nil {
			return nil, fmt.Errorf("load good mirrors: %w", err)
		}
		for _, line := range lines {
			p.addGoodLocked(line)
		}
	}
	if opts.QuarantinePath != "" {
		lines, err := fileutil.ReadLines(opts.QuarantinePath)
		if err != nil {
			return nil, fmt.Errorf("load quarantined mirrors: %w", err)
		}
		for _, line := range lines {
			u := normalize(line)
			if u == "" || slices.Contains(p.quarantine, u) {
				continue
			}
			p.removeGoodLocked(u)
			p.quarantine = append(p.quarantine, u)
		}
	}
	return p, nil
}

func newPool(opts Options) *Pool {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		threshold:      threshold,
		goodPath:       opts.GoodPath,
		quarantinePath: opts.QuarantinePath,
		logger:         logging.NewComponentLogger(logger, "mirrors"),
	}
}

// Seed adds urls when the good list is empty. Quarantined mirrors are skipped.
// It returns the number of mirrors added.
func (p *Pool) Seed(urls []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.good) > 0 {
		return 0, nil
	}
	added := 0
	for _, u := range urls {
		u = normalize(u)
		if u == "" || slices.Contains(p.quarantine, u) {
			continue
		}
		if p.addGoodLocked(u) {
			added++
		}
	}
	if added == 0 {
		return 0, nil
	}
	return added, p.saveLocked()
}

// Next returns the next mirror in rotation.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.good) == 0 {
		return "", ErrNoMirrors
	}
	if p.index >= len(p.good) {
		p.index = 0
	}
	entry := p.good[p.index]
	p.index = (p.index + 1) % len(p.good)
	return entry.BaseURL, nil
}

// ReportFailure counts a failure against mirror. Once the count reaches the
// threshold the mirror moves to quarantine and both lists are saved. It
// reports whether the mirror was quarantined by this call.
func (p *Pool) ReportFailure(mirror string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mirror = normalize(mirror)
	i := p.findLocked(mirror)
	if i < 0 {
		return false, nil
	}
	p.good[i].Failures++
	if p.good[i].Failures < p.threshold {
		return false, nil
	}
	p.removeAtLocked(i)
	p.quarantine = append(p.quarantine, mirror)
	p.logger.Warn("mirror quarantined",
		logging.String(logging.FieldMirror, mirror),
		logging.Int("threshold", p.threshold),
		logging.Int("remaining", len(p.good)),
		logging.String(logging.FieldEventType, "mirror_quarantined"),
		logging.String(logging.FieldErrorHint, "run 'fetchledger mirrors release' once the mirror recovers"),
	)
	return true, p.saveLocked()
}

// ReportSuccess clears the consecutive failure count of mirror.
func (p *Pool) ReportSuccess(mirror string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.findLocked(normalize(mirror)); i >= 0 {
		p.good[i].Failures = 0
	}
}

// Release moves every quarantined mirror back into rotation.
func (p *Pool) Release() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	released := len(p.quarantine)
	for _, u := range p.quarantine {
		p.addGoodLocked(u)
	}
	p.quarantine = nil
	if released == 0 {
		return 0, nil
	}
	return released, p.saveLocked()
}

// Replace swaps the good list for urls, keeping failure counts of mirrors
// that stay and excluding quarantined ones. It returns the new good count.
func (p *Pool) Replace(urls []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous := make(map[string]int, len(p.good))
	for _, e := range p.good {
		previous[e.BaseURL] = e.Failures
	}
	p.good = nil
	p.index = 0
	for _, u := range urls {
		u = normalize(u)
		if u == "" || slices.Contains(p.quarantine, u) {
			continue
		}
		if p.addGoodLocked(u) {
			p.good[len(p.good)-1].Failures = previous[u]
		}
	}
	return len(p.good), p.saveLocked()
}

// Save writes both lists to their files.
func (p *Pool) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked()
}

// Good returns a copy of the mirrors in rotation.
func (p *Pool) Good() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Entry(nil), p.good...)
}

// Quarantined returns a copy of the quarantined mirrors.
func (p *Pool) Quarantined() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.quarantine...)
}

// Len returns the number of mirrors in rotation.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.good)
}

func (p *Pool) saveLocked() error {
	if p.goodPath != "" {
		urls := make([]string, 0, len(p.good))
		for _, e := range p.good {
			urls = append(urls, e.BaseURL)
		}
		if err := fileutil.WriteLinesAtomic(p.goodPath, urls); err != nil {
			return fmt.Errorf("save good mirrors: %w", err)
		}
	}
	if p.quarantinePath != "" {
		if err := fileutil.WriteLinesAtomic(p.quarantinePath, p.quarantine); err != nil {
			return fmt.Errorf("save quarantined mirrors: %w", err)
		}
	}
	return nil
}

func (p *Pool) addGoodLocked(raw string) bool {
	u := normalize(raw)
	if u == "" || p.findLocked(u) >= 0 {
		return false
	}
	p.good = append(p.good, Entry{BaseURL: u})
	return true
}

func (p *Pool) removeGoodLocked(u string) {
	if i := p.findLocked(u); i >= 0 {
		p.removeAtLocked(i)
	}
}

// removeAtLocked drops good[i] and shifts the rotation index so the entry that
// would have been returned next still is.
func (p *Pool) removeAtLocked(i int) {
	p.good = slices.Delete(p.good, i, i+1)
	if i < p.index {
		p.index--
	}
	if p.index >= len(p.good) {
		p.index = 0
	}
}

func (p *Pool) findLocked(u string) int {
	for i, e := range p.good {
		if e.BaseURL == u {
			return i
		}
	}
	return -1
}

func normalize(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
