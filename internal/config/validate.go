package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"fetchledger/internal/faults"
)

// Validate ensures the configuration is usable. Every failure wraps
// faults.ErrConfiguration so callers can stop before any network activity.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validatePaths,
		c.validateMirrors,
		c.validateTransfer,
		c.validateScheduler,
		c.validateCatalog,
		c.validateLogging,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return configError("validate", err)
		}
	}
	return nil
}

func (c *Config) validatePaths() error {
	required := map[string]string{
		"paths.download_dir":      c.Paths.DownloadDir,
		"paths.state_dir":         c.Paths.StateDir,
		"paths.ledger_file":       c.Paths.LedgerFile,
		"paths.good_mirrors_file": c.Paths.GoodMirrorsFile,
		"paths.quarantine_file":   c.Paths.QuarantineFile,
		"paths.journal_file":      c.Paths.JournalFile,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if c.Paths.GoodMirrorsFile == c.Paths.QuarantineFile {
		return errors.New("paths.good_mirrors_file and paths.quarantine_file must differ")
	}
	return nil
}

func (c *Config) validateMirrors() error {
	if c.Mirrors.ListURL != "" {
		if err := validateHTTPURL(c.Mirrors.ListURL); err != nil {
			return fmt.Errorf("mirrors.list_url: %w", err)
		}
	}
	for _, seed := range c.Mirrors.Seeds {
		if err := validateHTTPURL(seed); err != nil {
			return fmt.Errorf("mirrors.seeds: %w", err)
		}
	}
	if c.Mirrors.RefreshOnStart && c.Mirrors.ListURL == "" {
		return errors.New("mirrors.list_url must be set when mirrors.refresh_on_start is true")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if err := ensurePositiveMap(map[string]int{
		"transfer.stall_timeout":   c.Transfer.StallTimeout,
		"transfer.connect_timeout": c.Transfer.ConnectTimeout,
	}); err != nil {
		return err
	}
	if c.Transfer.BufferSize < minBufferSize {
		return fmt.Errorf("transfer.buffer_size must be at least %d bytes", minBufferSize)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if err := ensurePositiveMap(map[string]int{
		"scheduler.pool_size":           c.Scheduler.PoolSize,
		"scheduler.shutdown_timeout":    c.Scheduler.ShutdownTimeout,
		"scheduler.monitor_interval_ms": c.Scheduler.MonitorIntervalMS,
		"scheduler.max_passes":          c.Scheduler.MaxPasses,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCatalog() error {
	seen := make(map[string]struct{}, len(c.Catalog.Sources))
	for i, src := range c.Catalog.Sources {
		if src.Path == "" {
			return fmt.Errorf("catalog.sources[%d].path must be set", i)
		}
		switch src.Kind {
		case SourceKindManifest, SourceKindSHA256Sums:
		default:
			return fmt.Errorf("catalog.sources[%d].kind: unsupported value %q", i, src.Kind)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("catalog.sources[%d].name %q is not unique", i, src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func configError(operation string, err error) error {
	return faults.Wrap(faults.ErrConfiguration, "config", operation, "", err)
}
