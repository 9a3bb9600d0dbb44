package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"fetchledger/internal/queue"
	"fetchledger/internal/runner"
	"fetchledger/internal/scheduler"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Ledger chain", statusError, "BROKEN", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Ledger chain:", "[ERROR] BROKEN")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Verified", statusOK, "3", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestStatusLabels(t *testing.T) {
	cases := map[queue.Status]string{
		queue.StatusDigestMismatch: "Digest Mismatch",
		queue.StatusTimedOut:       "Timed Out",
		queue.StatusPending:        "Pending",
	}
	for status, want := range cases {
		if got := statusLabel(status); got != want {
			t.Fatalf("statusLabel(%s) = %q, want %q", status, got, want)
		}
	}
	if journalStatusKind(queue.StatusDigestMismatch) != statusError {
		t.Fatal("digest mismatch should render as an error")
	}
	if journalStatusKind(queue.StatusHalted) != statusWarn {
		t.Fatal("halted should render as a warning")
	}
}

func TestBannerFramesEveryLine(t *testing.T) {
	lines := brokenChainBanner("/tmp/ledger.csv", errors.New("row 4 mismatch"), false)
	if len(lines) < 4 {
		t.Fatalf("expected framed banner, got %v", lines)
	}
	width := len(lines[0])
	for _, l := range lines {
		if len(l) != width {
			t.Fatalf("banner line %q has width %d, want %d", l, len(l), width)
		}
	}
	if !strings.Contains(strings.Join(lines, "\n"), "row 4 mismatch") {
		t.Fatalf("banner lost the cause: %v", lines)
	}
}

func TestRunSummaryLines(t *testing.T) {
	summary := &runner.Summary{
		RunID:        "run-1",
		Total:        5,
		Verified:     3,
		DigestFailed: 1,
		Pending:      2,
		Passes:       2,
		Bytes:        3 << 20,
		ChainIntact:  true,
		Duration:     90 * time.Second,
		Failures: []runner.Failure{
			{Key: "b", Kind: scheduler.UnitDigestMismatch, Mirror: "https://m1"},
			{Key: "c", Kind: scheduler.UnitTimedOut},
		},
	}
	joined := strings.Join(runSummaryLines(summary, false), "\n")
	for _, want := range []string{"3 of 5 artifacts", "[ERROR] 1 artifacts", "Not yet downloaded:", "[WARN] 2", "3.0 MiB", "1m30s"} {
		requireContains(t, joined, want)
	}
	rows := failureRows(summary.Failures)
	if rows[0][1] != "Digest Mismatch" || rows[1][2] != "-" {
		t.Fatalf("unexpected failure rows %v", rows)
	}
	view := runSummaryJSON(summary)
	if view.Failures[1].Result != "timed_out" || view.DurationMS != 90000 {
		t.Fatalf("unexpected json view %+v", view)
	}
}

func TestDescribeSnapshot(t *testing.T) {
	got := describeSnapshot(2, scheduler.Snapshot{State: scheduler.Paused, TotalBytes: 2048, Speed: 1024, Failed: 1})
	want := "pass 2 2.0 KiB 1.0 KiB/s failed=1 (paused)"
	if got != want {
		t.Fatalf("describeSnapshot = %q, want %q", got, want)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
