package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations.
type Paths struct {
	DownloadDir     string `toml:"download_dir"`
	StateDir        string `toml:"state_dir"`
	LogDir          string `toml:"log_dir"`
	LedgerFile      string `toml:"ledger_file"`
	GoodMirrorsFile string `toml:"good_mirrors_file"`
	QuarantineFile  string `toml:"quarantine_file"`
	JournalFile     string `toml:"journal_file"`
}

// Mirrors contains mirror rotation and quarantine settings.
type Mirrors struct {
	ListURL          string   `toml:"list_url"`
	Seeds            []string `toml:"seeds"`
	FailureThreshold int      `toml:"failure_threshold"`
	RefreshOnStart   bool     `toml:"refresh_on_start"`
}

// Transfer contains HTTP transfer settings.
type Transfer struct {
	StallTimeout   int    `toml:"stall_timeout"`
	ConnectTimeout int    `toml:"connect_timeout"`
	BufferSize     int    `toml:"buffer_size"`
	UserAgent      string `toml:"user_agent"`
}

// Scheduler contains worker pool settings.
type Scheduler struct {
	PoolSize          int `toml:"pool_size"`
	ShutdownTimeout   int `toml:"shutdown_timeout"`
	MonitorIntervalMS int `toml:"monitor_interval_ms"`
	MaxPasses         int `toml:"max_passes"`
}

// CatalogSource names one catalog file and the adapter that reads it.
type CatalogSource struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
	Path string `toml:"path"`
}

// Catalog lists the configured catalog sources.
type Catalog struct {
	Sources []CatalogSource `toml:"sources"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for fetchledger.
//
// Configuration sections by subsystem:
//   - Paths: download root, state files (ledger, mirror lists, journal), logs
//   - Mirrors: remote mirror list, seeds, quarantine threshold
//   - Transfer: stall window and HTTP transport settings
//   - Scheduler: pool size, shutdown drain, progress polling, passes
//   - Catalog: artifact catalog sources
//   - Logging: log format and level
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	Mirrors       Mirrors       `toml:"mirrors"`
	Transfer      Transfer      `toml:"transfer"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Catalog       Catalog       `toml:"catalog"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/fetchledger/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. The bool reports whether a file was read;
// a missing file yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, configError("normalize config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return configError("parse config", err)
	}
	return nil
}

// resolveConfigPath honours an explicit path even when it does not exist yet.
// Without one it tries the user config and then ./fetchledger.toml, falling
// back to the user config location.
func resolveConfigPath(explicit string) (string, bool, error) {
	if explicit != "" {
		path, err := ExpandPath(explicit)
		if err != nil {
			return "", false, err
		}
		exists, err := regularFile(path)
		if err != nil {
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return path, exists, nil
	}

	userPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := ExpandPath("fetchledger.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, projectPath} {
		if ok, _ := regularFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func regularFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	return !info.IsDir(), nil
}

// EnsureDirectories creates the download, state, and log directories along with
// the parents of every state file.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DownloadDir, c.Paths.StateDir, c.Paths.LogDir}
	for _, file := range []string{c.Paths.LedgerFile, c.Paths.GoodMirrorsFile, c.Paths.QuarantineFile, c.Paths.JournalFile} {
		if file != "" {
			dirs = append(dirs, filepath.Dir(file))
		}
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file for runs sharing this state directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "fetchledger.lock")
}

// ExpandPath resolves a leading "~" or "~/" against the home directory and
// returns a cleaned absolute path. Empty input stays empty.
func ExpandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = home + strings.TrimPrefix(value, "~")
	}
	absolute, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return absolute, nil
}

// CreateSample writes the commented sample configuration to path, creating
// parent directories as needed.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
