package testsupport

import (
	"path/filepath"
	"testing"

	"fetchledger/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	state := filepath.Join(base, "state")
	cfgVal.Paths = config.Paths{
		DownloadDir:     filepath.Join(base, "downloads"),
		StateDir:        state,
		LogDir:          filepath.Join(base, "logs"),
		LedgerFile:      filepath.Join(state, "ledger.csv"),
		GoodMirrorsFile: filepath.Join(state, "mirrors.txt"),
		QuarantineFile:  filepath.Join(state, "mirrors.quarantine.txt"),
		JournalFile:     filepath.Join(state, "journal.db"),
	}
	cfgVal.Transfer.StallTimeout = 5
	cfgVal.Scheduler.ShutdownTimeout = 5
	cfgVal.Scheduler.MonitorIntervalMS = 20

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return builder.cfg
}

// WithSeeds sets the mirror seed list.
func WithSeeds(seeds ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Mirrors.Seeds = append([]string(nil), seeds...)
	}
}

// WithPoolSize overrides the scheduler pool size.
func WithPoolSize(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.PoolSize = n
	}
}

// WithMaxPasses overrides the number of scheduling passes.
func WithMaxPasses(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.MaxPasses = n
	}
}

// WithCatalogSource appends a catalog source.
func WithCatalogSource(name, kind, path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Catalog.Sources = append(b.cfg.Catalog.Sources, config.CatalogSource{Name: name, Kind: kind, Path: path})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
