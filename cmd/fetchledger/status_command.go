package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fetchledger/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string
	var all bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show journalled artifact state and the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := make([]queue.Status, 0, len(statusFilters))
			for _, raw := range statusFilters {
				status, err := queue.ParseStatus(raw)
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}
			if len(statuses) == 0 && !all {
				for _, s := range queue.AllStatuses() {
					if s.Outstanding() {
						statuses = append(statuses, s)
					}
				}
			}

			store, err := queue.Open(cfg.Paths.JournalFile)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			last, err := store.LastRun(cmd.Context())
			if err != nil {
				return err
			}
			items, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			writeLines(out, journalStatsLines(stats, colorize))
			fmt.Fprintln(out)
			writeLines(out, lastRunLines(last, colorize))
			if len(items) > 0 {
				fmt.Fprintln(out)
				fmt.Fprint(out, renderTable(
					[]string{"Artifact", "Status", "Attempts", "Bytes", "Mirror", "Updated", "Error"},
					journalRows(items),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
				))
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&statusFilters, "status", "s", nil, "Only list artifacts in these statuses")
	cmd.Flags().BoolVar(&all, "all", false, "List completed artifacts too")
	return cmd
}

func journalStatsLines(stats map[queue.Status]int, colorize bool) []string {
	lines := renderSectionHeader("Journal", colorize)
	total := 0
	for _, n := range stats {
		total += n
	}
	if total == 0 {
		return append(lines, renderStatusLine("Artifacts", statusInfo, "journal is empty; run `fetchledger run` first", colorize))
	}
	for _, status := range queue.AllStatuses() {
		n := stats[status]
		if n == 0 {
			continue
		}
		lines = append(lines, renderStatusLine(statusLabel(status), journalStatusKind(status), fmt.Sprintf("%d", n), colorize))
	}
	return lines
}

func lastRunLines(run *queue.Run, colorize bool) []string {
	lines := renderSectionHeader("Last run", colorize)
	if run == nil {
		return append(lines, renderStatusLine("Run", statusInfo, "none recorded", colorize))
	}
	lines = append(lines, renderStatusLine("Run", statusInfo, run.ID, colorize))
	lines = append(lines, renderStatusLine("Started", statusInfo, humanize.Time(run.StartedAt), colorize))
	if run.FinishedAt == nil {
		return append(lines, renderStatusLine("Finished", statusWarn, "did not finish (still running or killed)", colorize))
	}
	lines = append(lines, renderStatusLine("Finished", statusInfo,
		fmt.Sprintf("%s (took %s)", humanize.Time(*run.FinishedAt), run.FinishedAt.Sub(run.StartedAt).Round(time.Second)), colorize))
	lines = append(lines, renderStatusLine("Verified", statusOK, fmt.Sprintf("%d", run.Verified), colorize))
	if run.DigestFailed > 0 {
		lines = append(lines, renderStatusLine("Digest failed", statusError, fmt.Sprintf("%d", run.DigestFailed), colorize))
	}
	pendingKind := statusOK
	if run.Pending > 0 {
		pendingKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Not yet downloaded", pendingKind, fmt.Sprintf("%d", run.Pending), colorize))
	if run.ChainIntact {
		lines = append(lines, renderStatusLine("Ledger chain", statusOK, "intact", colorize))
	} else {
		lines = append(lines, renderStatusLine("Ledger chain", statusError, "BROKEN", colorize))
	}
	if strings.TrimSpace(run.Error) != "" {
		lines = append(lines, renderStatusLine("Error", statusError, run.Error, colorize))
	}
	return lines
}

func journalRows(items []*queue.Item) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		mirror := item.LastMirror
		if mirror == "" {
			mirror = "-"
		}
		bytes := "-"
		if item.Bytes > 0 {
			bytes = humanize.IBytes(uint64(item.Bytes))
		}
		rows = append(rows, []string{
			item.Key,
			statusLabel(item.Status),
			fmt.Sprintf("%d", item.Attempts),
			bytes,
			mirror,
			formatUpdated(item.UpdatedAt),
			item.LastError,
		})
	}
	return rows
}

func formatUpdated(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format("2006-01-02 15:04:05")
}
