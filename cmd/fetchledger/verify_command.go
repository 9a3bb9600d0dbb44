package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fetchledger/internal/audit"
)

var errAuditFailed = errors.New("ledger audit failed")

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var concurrency int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audit the ledger chain and re-check every recorded file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(false)
			if err != nil {
				return err
			}
			artifacts, err := ctx.artifacts(cmd.Context())
			if err != nil {
				return err
			}
			report, err := audit.Verify(cmd.Context(), cfg.Paths.LedgerFile, artifacts, audit.Options{
				Concurrency: concurrency,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := writeJSON(cmd, auditJSON(report)); err != nil {
					return err
				}
			} else {
				writeAuditReport(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
			}
			if !report.OK() {
				return errAuditFailed
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel digest checks (default GOMAXPROCS)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the audit report as JSON")
	return cmd
}

func writeAuditReport(w io.Writer, report *audit.Report, colorize bool) {
	if !report.ChainIntact {
		writeLines(w, brokenChainBanner(report.Path, report.Break, colorize))
		fmt.Fprintln(w)
	}

	lines := renderSectionHeader("Ledger audit", colorize)
	lines = append(lines, renderStatusLine("Ledger", statusInfo, report.Path, colorize))
	if report.ChainIntact {
		lines = append(lines, renderStatusLine("Chain", statusOK, fmt.Sprintf("intact, %d rows", report.Rows), colorize))
	} else {
		lines = append(lines, renderStatusLine("Chain", statusError,
			fmt.Sprintf("broken at row %d; %d rows before it trusted", report.Break.Row, report.Rows), colorize))
	}
	lines = append(lines, renderStatusLine("Finalized", statusInfo, yesNo(report.Finalized), colorize))
	lines = append(lines, renderStatusLine("Verified", statusOK, fmt.Sprintf("%d", len(report.Verified)), colorize))
	if n := len(report.DigestFailed); n > 0 {
		lines = append(lines, renderStatusLine("Digest failed", statusError, fmt.Sprintf("%d", n), colorize))
	} else {
		lines = append(lines, renderStatusLine("Digest failed", statusOK, "none", colorize))
	}
	if n := len(report.Missing); n > 0 {
		lines = append(lines, renderStatusLine("Not yet downloaded", statusWarn, fmt.Sprintf("%d", n), colorize))
	}
	if n := len(report.Unknown); n > 0 {
		lines = append(lines, renderStatusLine("Not in catalog", statusWarn, fmt.Sprintf("%d", n), colorize))
	}
	writeLines(w, lines)

	if len(report.DigestFailed) == 0 {
		return
	}
	rows := make([][]string, 0, len(report.DigestFailed))
	for _, f := range report.DigestFailed {
		rows = append(rows, []string{f.Key, f.Dest, f.Reason})
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, renderTable([]string{"Artifact", "File", "Reason"}, rows, nil))
	fmt.Fprintln(w)
}

type auditFindingJSON struct {
	Key    string `json:"key"`
	Dest   string `json:"dest"`
	Reason string `json:"reason"`
	Actual string `json:"actual,omitempty"`
}

type auditView struct {
	Ledger       string             `json:"ledger"`
	ChainIntact  bool               `json:"chain_intact"`
	BreakRow     int                `json:"break_row,omitempty"`
	BreakReason  string             `json:"break_reason,omitempty"`
	Rows         int                `json:"rows"`
	Finalized    bool               `json:"finalized"`
	Verified     []string           `json:"verified"`
	DigestFailed []auditFindingJSON `json:"digest_failed"`
	Missing      []string           `json:"missing"`
	Unknown      []string           `json:"unknown"`
}

func auditJSON(r *audit.Report) auditView {
	view := auditView{
		Ledger:       r.Path,
		ChainIntact:  r.ChainIntact,
		Rows:         r.Rows,
		Finalized:    r.Finalized,
		Verified:     nonNil(r.Verified),
		DigestFailed: []auditFindingJSON{},
		Missing:      nonNil(r.Missing),
		Unknown:      nonNil(r.Unknown),
	}
	if r.Break != nil {
		view.BreakRow = r.Break.Row
		view.BreakReason = r.Break.Error()
	}
	for _, f := range r.DigestFailed {
		view.DigestFailed = append(view.DigestFailed, auditFindingJSON(f))
	}
	return view
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
