package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"fetchledger/internal/config"
	"fetchledger/internal/faults"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("FETCHLEDGER_MIRRORS", " https://a.example.org/ ,https://b.example.org,https://a.example.org")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "fetchledger", "state")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.LedgerFile != filepath.Join(wantState, "ledger.csv") {
		t.Fatalf("unexpected ledger file: %q", cfg.Paths.LedgerFile)
	}
	if cfg.Paths.QuarantineFile != filepath.Join(wantState, "mirrors.quarantine.txt") {
		t.Fatalf("unexpected quarantine file: %q", cfg.Paths.QuarantineFile)
	}
	if got := cfg.Mirrors.Seeds; len(got) != 2 || got[0] != "https://a.example.org" || got[1] != "https://b.example.org" {
		t.Fatalf("unexpected seeds from env: %v", got)
	}
	if cfg.Scheduler.PoolSize != config.Default().Scheduler.PoolSize {
		t.Fatalf("unexpected pool size: %d", cfg.Scheduler.PoolSize)
	}
	if cfg.Transfer.StallTimeout != config.Default().Transfer.StallTimeout {
		t.Fatalf("unexpected stall timeout: %d", cfg.Transfer.StallTimeout)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DownloadDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "fetchledger.toml")

	type payload struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		Scheduler struct {
			PoolSize int `toml:"pool_size"`
		} `toml:"scheduler"`
		Catalog struct {
			Sources []config.CatalogSource `toml:"sources"`
		} `toml:"catalog"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.Scheduler.PoolSize = 9
	custom.Catalog.Sources = []config.CatalogSource{{Kind: "SHA256SUMS", Path: filepath.Join(tempDir, "debian.sums")}}

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config %q to be loaded, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Scheduler.PoolSize != 9 {
		t.Fatalf("expected pool size 9, got %d", cfg.Scheduler.PoolSize)
	}
	if cfg.Paths.LedgerFile != filepath.Join(tempDir, "state", "ledger.csv") {
		t.Fatalf("expected ledger file under custom state dir, got %q", cfg.Paths.LedgerFile)
	}
	if len(cfg.Catalog.Sources) != 1 {
		t.Fatalf("expected one catalog source, got %d", len(cfg.Catalog.Sources))
	}
	src := cfg.Catalog.Sources[0]
	if src.Kind != config.SourceKindSHA256Sums {
		t.Fatalf("expected kind to be lower-cased, got %q", src.Kind)
	}
	if src.Name != "debian" {
		t.Fatalf("expected name derived from path, got %q", src.Name)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "fetchledger.toml")
	if err := os.WriteFile(configPath, []byte("[scheduler]\npool_sizes = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(configPath)
	if !errors.Is(err, faults.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateFailures(t *testing.T) {
	base := func(t *testing.T) config.Config {
		t.Helper()
		t.Setenv("HOME", t.TempDir())
		cfg, _, _, err := config.Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return *cfg
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"negative pool", func(c *config.Config) { c.Scheduler.PoolSize = -1 }, "scheduler.pool_size"},
		{"tiny buffer", func(c *config.Config) { c.Transfer.BufferSize = 16 }, "transfer.buffer_size"},
		{"bad seed", func(c *config.Config) { c.Mirrors.Seeds = []string{"ftp://mirror"} }, "mirrors.seeds"},
		{"refresh without url", func(c *config.Config) { c.Mirrors.RefreshOnStart = true }, "mirrors.list_url"},
		{"bad source kind", func(c *config.Config) {
			c.Catalog.Sources = []config.CatalogSource{{Name: "x", Kind: "rpm", Path: "/tmp/x"}}
		}, "catalog.sources[0].kind"},
		{"same mirror files", func(c *config.Config) { c.Paths.QuarantineFile = c.Paths.GoodMirrorsFile }, "must differ"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, faults.ErrConfiguration) {
				t.Fatalf("expected configuration marker, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(target); err != nil || !exists {
		t.Fatalf("expected sample config to load, exists=%v err=%v", exists, err)
	}
}
