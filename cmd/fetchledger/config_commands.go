package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fetchledger/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(newConfigValidateCommand(ctx), newConfigInitCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := sampleTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				switch _, err := os.Stat(target); {
				case err == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			writeLines(cmd.OutOrStdout(), []string{
				"Wrote sample configuration to " + target,
				"Add mirrors.seeds (or export FETCHLEDGER_MIRRORS) and a [[catalog.sources]] entry before running fetchledger.",
			})
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func sampleTarget(flagValue string) (string, error) {
	if flagValue = strings.TrimSpace(flagValue); flagValue == "" {
		return config.DefaultConfigPath()
	}
	return config.ExpandPath(flagValue)
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file and show resolved state paths",
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, resolved, exists, err := config.Load(ctx.explicitConfig())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			lines := []string{"Config path: " + resolved}
			if !exists {
				lines = append(lines, "Config file did not exist; defaults were used")
			}
			writeLines(out, lines)
			fmt.Fprint(out, renderTable([]string{"Setting", "Path"}, configPathRows(cfg), nil))
			for _, warning := range configWarnings(cfg) {
				fmt.Fprintln(out, "Warning: "+warning)
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func configPathRows(cfg *config.Config) [][]string {
	return [][]string{
		{"download_dir", cfg.Paths.DownloadDir},
		{"ledger_file", cfg.Paths.LedgerFile},
		{"good_mirrors_file", cfg.Paths.GoodMirrorsFile},
		{"quarantine_file", cfg.Paths.QuarantineFile},
		{"journal_file", cfg.Paths.JournalFile},
		{"log_dir", cfg.Paths.LogDir},
	}
}

func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if len(cfg.Mirrors.Seeds) == 0 && cfg.Mirrors.ListURL == "" {
		warnings = append(warnings, "no mirrors configured")
	}
	if len(cfg.Catalog.Sources) == 0 {
		warnings = append(warnings, "no catalog sources configured")
	}
	return warnings
}
