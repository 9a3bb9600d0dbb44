package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"fetchledger/internal/config"
	"fetchledger/internal/mirrors"
	"fetchledger/internal/runner"
	"fetchledger/internal/transfer"
)

func newMirrorsCommand(ctx *commandContext) *cobra.Command {
	mirrorsCmd := &cobra.Command{
		Use:   "mirrors",
		Short: "Inspect and maintain the mirror pool",
	}
	mirrorsCmd.AddCommand(newMirrorsListCommand(ctx))
	mirrorsCmd.AddCommand(newMirrorsRefreshCommand(ctx))
	mirrorsCmd.AddCommand(newMirrorsReleaseCommand(ctx))
	return mirrorsCmd
}

func newMirrorsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List mirrors in rotation and in quarantine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pool, err := runner.LoadMirrors(cfg, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			good := pool.Good()
			quarantined := pool.Quarantined()
			if len(good) == 0 && len(quarantined) == 0 {
				fmt.Fprintln(out, "No mirrors configured; set mirrors.seeds or mirrors.list_url")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"Mirror", "State", "Failures"},
				mirrorRows(good, quarantined, cfg.Mirrors.FailureThreshold),
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newMirrorsRefreshCommand(ctx *commandContext) *cobra.Command {
	var listURL string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Replace the rotation with a freshly fetched mirror list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(listURL)
			if target == "" {
				target = cfg.Mirrors.ListURL
			}
			if target == "" {
				return fmt.Errorf("no mirror list URL; set mirrors.list_url or pass --url")
			}
			logger, err := ctx.logger(true)
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				pool, err := runner.LoadMirrors(cfg, logger)
				if err != nil {
					return err
				}
				client := transfer.NewClient(transfer.ClientOptions{
					ConnectTimeout: time.Duration(cfg.Transfer.ConnectTimeout) * time.Second,
					Logger:         logger,
				})
				count, err := pool.Refresh(cmd.Context(), client, target)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mirror rotation now holds %d mirrors (%d quarantined)\n", count, len(pool.Quarantined()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listURL, "url", "", "Mirror list URL (default mirrors.list_url)")
	return cmd
}

func newMirrorsReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Return every quarantined mirror to rotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				pool, err := runner.LoadMirrors(cfg, nil)
				if err != nil {
					return err
				}
				released, err := pool.Release()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %d quarantined mirrors\n", released)
				return nil
			})
		},
	}
}

func mirrorRows(good []mirrors.Entry, quarantined []string, threshold int) [][]string {
	rows := make([][]string, 0, len(good)+len(quarantined))
	for _, e := range good {
		rows = append(rows, []string{e.BaseURL, "rotation", fmt.Sprintf("%d/%d", e.Failures, threshold)})
	}
	for _, u := range quarantined {
		rows = append(rows, []string{u, "quarantined", "-"})
	}
	return rows
}

// withRunLock runs fn while holding the state directory lock, so maintenance
// never rewrites files a running fetch owns.
func withRunLock(cfg *config.Config, fn func() error) error {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", runner.ErrAlreadyRunning, cfg.LockPath())
	}
	defer lock.Unlock()
	return fn()
}
