package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"fetchledger/internal/runner"
)

func runSummaryLines(s *runner.Summary, colorize bool) []string {
	lines := renderSectionHeader("Run "+s.RunID, colorize)

	lines = append(lines, renderStatusLine("Verified", statusOK,
		fmt.Sprintf("%d of %d artifacts", s.Verified, s.Total), colorize))

	switch {
	case s.DigestFailed > 0:
		lines = append(lines, renderStatusLine("Digest failed", statusError,
			fmt.Sprintf("%d artifacts had the wrong SHA-256 and were deleted", s.DigestFailed), colorize))
	default:
		lines = append(lines, renderStatusLine("Digest failed", statusOK, "none", colorize))
	}

	pendingKind := statusOK
	if s.Pending > 0 {
		pendingKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Not yet downloaded", pendingKind, fmt.Sprintf("%d", s.Pending), colorize))

	if s.ChainIntact {
		lines = append(lines, renderStatusLine("Ledger chain", statusOK, "intact", colorize))
	} else {
		lines = append(lines, renderStatusLine("Ledger chain", statusError, "BROKEN", colorize))
	}
	if s.Finalized {
		lines = append(lines, renderStatusLine("Ledger", statusInfo, "finalized", colorize))
	}
	if s.Interrupted {
		lines = append(lines, renderStatusLine("Interrupted", statusWarn, "stopped before every pass finished", colorize))
	}

	lines = append(lines,
		renderStatusLine("Downloaded", statusInfo, humanize.IBytes(uint64(max(s.Bytes, 0))), colorize),
		renderStatusLine("Passes", statusInfo, fmt.Sprintf("%d", s.Passes), colorize),
		renderStatusLine("Duration", statusInfo, s.Duration.Round(time.Second).String(), colorize),
	)
	return lines
}

func failureRows(failures []runner.Failure) [][]string {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		mirror := f.Mirror
		if mirror == "" {
			mirror = "-"
		}
		rows = append(rows, []string{f.Key, humanizeLabel(f.Kind.String()), mirror, f.Error})
	}
	return rows
}

type runFailureJSON struct {
	Key    string `json:"key"`
	Result string `json:"result"`
	Mirror string `json:"mirror,omitempty"`
	Error  string `json:"error,omitempty"`
}

type runSummaryView struct {
	RunID        string           `json:"run_id"`
	Ledger       string           `json:"ledger"`
	Total        int              `json:"total"`
	Verified     int              `json:"verified"`
	DigestFailed int              `json:"digest_failed"`
	Pending      int              `json:"pending"`
	Passes       int              `json:"passes"`
	Bytes        int64            `json:"bytes"`
	ChainIntact  bool             `json:"chain_intact"`
	ChainError   string           `json:"chain_error,omitempty"`
	Finalized    bool             `json:"finalized"`
	Interrupted  bool             `json:"interrupted"`
	DurationMS   int64            `json:"duration_ms"`
	Failures     []runFailureJSON `json:"failures,omitempty"`
}

func runSummaryJSON(s *runner.Summary) runSummaryView {
	view := runSummaryView{
		RunID:        s.RunID,
		Ledger:       s.LedgerPath,
		Total:        s.Total,
		Verified:     s.Verified,
		DigestFailed: s.DigestFailed,
		Pending:      s.Pending,
		Passes:       s.Passes,
		Bytes:        s.Bytes,
		ChainIntact:  s.ChainIntact,
		Finalized:    s.Finalized,
		Interrupted:  s.Interrupted,
		DurationMS:   s.Duration.Milliseconds(),
	}
	if s.ChainError != nil {
		view.ChainError = s.ChainError.Error()
	}
	for _, f := range s.Failures {
		view.Failures = append(view.Failures, runFailureJSON{
			Key:    f.Key,
			Result: f.Kind.String(),
			Mirror: f.Mirror,
			Error:  f.Error,
		})
	}
	return view
}
