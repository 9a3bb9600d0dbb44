package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"fetchledger/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or finalize the ledger",
	}
	ledgerCmd.AddCommand(newLedgerShowCommand(ctx))
	ledgerCmd.AddCommand(newLedgerFinalizeCommand(ctx))
	return ledgerCmd
}

func newLedgerShowCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Replay the ledger and print its rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var rows [][]string
			summary, replayErr := ledger.ReplayFile(cfg.Paths.LedgerFile, func(row ledger.Row) error {
				rows = append(rows, []string{row.Key, row.Digest, row.Timestamp, row.Hash})
				return nil
			})
			var chainErr *ledger.ChainError
			if replayErr != nil && !errors.As(replayErr, &chainErr) {
				if errors.Is(replayErr, fs.ErrNotExist) {
					return fmt.Errorf("no ledger at %s; run `fetchledger run` first", cfg.Paths.LedgerFile)
				}
				return replayErr
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if limit > 0 && len(rows) > limit {
				rows = rows[len(rows)-limit:]
			}
			if len(rows) > 0 {
				fmt.Fprint(out, renderTable([]string{"Key", "SHA-256", "Recorded (UTC)", "Row hash"}, rows, nil))
				fmt.Fprintln(out)
			}
			lines := []string{
				renderStatusLine("Rows", statusInfo, fmt.Sprintf("%d", summary.Rows), colorize),
				renderStatusLine("Last hash", statusInfo, summary.LastHash, colorize),
				renderStatusLine("Finalized", statusInfo, yesNo(summary.Finalized), colorize),
			}
			writeLines(out, lines)
			if chainErr != nil {
				fmt.Fprintln(out)
				writeLines(out, brokenChainBanner(cfg.Paths.LedgerFile, chainErr, colorize))
				return chainErr
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "tail", "n", 0, "Only print the last n rows")
	return cmd
}

func newLedgerFinalizeCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Append the end-of-ledger row; no artifact can be recorded afterwards",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Paths.LedgerFile); err != nil {
				return fmt.Errorf("no ledger to finalize at %s: %w", cfg.Paths.LedgerFile, err)
			}
			logger, err := ctx.logger(true)
			if err != nil {
				return err
			}
			return withRunLock(cfg, func() error {
				l, err := ledger.Resume(cfg.Paths.LedgerFile, ledger.Options{Logger: logger})
				if err != nil {
					return err
				}
				defer l.Close()
				if l.Finalized() {
					return fmt.Errorf("%s: %w", cfg.Paths.LedgerFile, ledger.ErrFinalized)
				}
				if !force {
					artifacts, err := ctx.artifacts(cmd.Context())
					if err != nil {
						return err
					}
					pending := 0
					for _, a := range artifacts {
						if !l.Has(a.Key) {
							pending++
						}
					}
					if pending > 0 {
						return fmt.Errorf("%d catalog artifacts are not recorded yet (use --force to finalize anyway)", pending)
					}
				}
				row, err := l.Finalize()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ledger finalized with %d rows; last hash %s\n", l.Len(), row.Hash)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Finalize even when catalog artifacts are still pending")
	return cmd
}
