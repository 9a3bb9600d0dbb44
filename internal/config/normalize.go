package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMirrors()
	c.normalizeTransfer()
	c.normalizeScheduler()
	if err := c.normalizeCatalog(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DownloadDir, err = ExpandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if c.Paths.StateDir, err = ExpandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}

	files := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.ledger_file", &c.Paths.LedgerFile, defaultLedgerName},
		{"paths.good_mirrors_file", &c.Paths.GoodMirrorsFile, defaultGoodMirrorsName},
		{"paths.quarantine_file", &c.Paths.QuarantineFile, defaultQuarantineName},
		{"paths.journal_file", &c.Paths.JournalFile, defaultJournalName},
	}
	for _, f := range files {
		trimmed := strings.TrimSpace(*f.value)
		if trimmed == "" && c.Paths.StateDir != "" {
			trimmed = filepath.Join(c.Paths.StateDir, f.fallback)
		}
		if *f.value, err = ExpandPath(trimmed); err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeMirrors() {
	c.Mirrors.ListURL = strings.TrimSpace(c.Mirrors.ListURL)
	if len(c.Mirrors.Seeds) == 0 {
		if value, ok := os.LookupEnv("FETCHLEDGER_MIRRORS"); ok {
			c.Mirrors.Seeds = strings.Split(value, ",")
		}
	}
	seeds := make([]string, 0, len(c.Mirrors.Seeds))
	seen := make(map[string]struct{}, len(c.Mirrors.Seeds))
	for _, seed := range c.Mirrors.Seeds {
		normalized := strings.TrimRight(strings.TrimSpace(seed), "/")
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		seeds = append(seeds, normalized)
	}
	c.Mirrors.Seeds = seeds
	if c.Mirrors.FailureThreshold <= 0 {
		c.Mirrors.FailureThreshold = defaultFailureThreshold
	}
}

func (c *Config) normalizeTransfer() {
	if c.Transfer.StallTimeout == 0 {
		c.Transfer.StallTimeout = defaultStallTimeout
	}
	if c.Transfer.ConnectTimeout == 0 {
		c.Transfer.ConnectTimeout = defaultConnectTimeout
	}
	if c.Transfer.BufferSize == 0 {
		c.Transfer.BufferSize = defaultBufferSize
	}
	c.Transfer.UserAgent = strings.TrimSpace(c.Transfer.UserAgent)
	if c.Transfer.UserAgent == "" {
		c.Transfer.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.PoolSize == 0 {
		c.Scheduler.PoolSize = defaultPoolSize
	}
	if c.Scheduler.ShutdownTimeout == 0 {
		c.Scheduler.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Scheduler.MonitorIntervalMS == 0 {
		c.Scheduler.MonitorIntervalMS = defaultMonitorIntervalMS
	}
	if c.Scheduler.MaxPasses == 0 {
		c.Scheduler.MaxPasses = defaultMaxPasses
	}
}

func (c *Config) normalizeCatalog() error {
	for i := range c.Catalog.Sources {
		src := &c.Catalog.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
		if src.Kind == "" {
			src.Kind = SourceKindManifest
		}
		path, err := ExpandPath(strings.TrimSpace(src.Path))
		if err != nil {
			return fmt.Errorf("catalog.sources[%d].path: %w", i, err)
		}
		src.Path = path
		if src.Name == "" && path != "" {
			src.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("FETCHLEDGER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}
