package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"fetchledger/internal/runner"
	"fetchledger/internal/scheduler"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var finalize bool
	var skipPreflight bool
	var noProgress bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download, verify and record every pending artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stderr := cmd.ErrOrStderr()
			progress := !noProgress && !jsonOutput && shouldColorize(stderr)
			logger, err := ctx.logger(!progress)
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var monitors sync.WaitGroup
			opts := runner.Options{
				Finalize:      finalize,
				SkipPreflight: skipPreflight,
				Logger:        logger,
			}
			if progress {
				interval := time.Duration(cfg.Scheduler.MonitorIntervalMS) * time.Millisecond
				opts.OnPass = func(pass int, s *scheduler.Scheduler) {
					view := newProgressView(stderr, pass)
					monitors.Add(1)
					go func() {
						defer monitors.Done()
						scheduler.Monitor(runCtx, s, interval, view.render)
						view.close()
					}()
				}
			}

			r := runner.New(cfg, opts)
			stopSignals := runner.HandleSignals(runCtx, r, cancel)
			summary, runErr := r.Run(runCtx)
			stopSignals()
			cancel()
			monitors.Wait()

			// Errors raised before the first pass have nothing to summarize
			// unless the ledger itself is broken.
			if summary != nil && (runErr == nil || summary.Passes > 0 || !summary.ChainIntact) {
				if jsonOutput {
					if err := writeJSON(cmd, runSummaryJSON(summary)); err != nil {
						return err
					}
				} else {
					writeRunSummary(cmd.OutOrStdout(), summary, shouldColorize(cmd.OutOrStdout()))
				}
			}

			switch {
			case runErr != nil:
				if errors.Is(runErr, runner.ErrAlreadyRunning) {
					return fmt.Errorf("%w (lock %s)", runErr, cfg.LockPath())
				}
				return runErr
			case !summary.Complete():
				return errIncomplete
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&finalize, "finalize", false, "Seal the ledger when every artifact is recorded")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip directory, disk space and mirror checks")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Log to the console instead of drawing a progress bar")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run summary as JSON")
	return cmd
}

var errIncomplete = errors.New("run finished with artifacts still pending")

func writeRunSummary(w io.Writer, summary *runner.Summary, colorize bool) {
	if !summary.ChainIntact {
		writeLines(w, brokenChainBanner(summary.LedgerPath, summary.ChainError, colorize))
		fmt.Fprintln(w)
	}
	writeLines(w, runSummaryLines(summary, colorize))
	if len(summary.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, renderTable(
			[]string{"Artifact", "Result", "Mirror", "Error"},
			failureRows(summary.Failures),
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
		))
		fmt.Fprintln(w)
	}
}

func brokenChainBanner(path string, cause error, colorize bool) []string {
	lines := []string{
		"LEDGER CHAIN IS BROKEN",
		"ledger: " + path,
	}
	if cause != nil {
		lines = append(lines, cause.Error())
	}
	lines = append(lines,
		"Rows from the break onward cannot be trusted.",
		"Delete the ledger and start a new run to rebuild it from verified downloads.",
	)
	return renderBanner(lines, colorize)
}
