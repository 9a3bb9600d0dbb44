package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"fetchledger/internal/catalog"
	"fetchledger/internal/config"
	"fetchledger/internal/logging"
)

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.explicitConfig())
		if err != nil {
			c.configErr = err
			return
		}
		if c.levelFlag != nil {
			if level := strings.ToLower(strings.TrimSpace(*c.levelFlag)); level != "" {
				cfg.Logging.Level = level
				if err := cfg.Validate(); err != nil {
					c.configErr = err
					return
				}
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger builds a logger for one command. console mirrors records to stderr;
// commands that draw a progress bar keep the terminal to themselves.
func (c *commandContext) logger(console bool) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg, console)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return logger, nil
}

func (c *commandContext) artifacts(ctx context.Context) ([]catalog.Artifact, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if len(cfg.Catalog.Sources) == 0 {
		return nil, fmt.Errorf("no catalog sources configured; add [[catalog.sources]] to %s", c.configPath())
	}
	sources, err := catalog.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return sources.Artifacts(ctx)
}

// skipConfigLoad marks commands that load (or create) configuration themselves.
const skipConfigLoad = "skipConfigLoad"

// explicitConfig returns the --config value, or "" to use the search order.
func (c *commandContext) explicitConfig() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) configPath() string {
	if path := c.explicitConfig(); path != "" {
		return path
	}
	if path, err := config.DefaultConfigPath(); err == nil {
		return path
	}
	return "the configuration file"
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations[skipConfigLoad] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
