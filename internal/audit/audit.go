package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"fetchledger/internal/catalog"
	"fetchledger/internal/checksum"
	"fetchledger/internal/ledger"
	"fetchledger/internal/logging"
)

// Options tunes Verify.
type Options struct {
	// Concurrency bounds parallel digest checks; defaults to GOMAXPROCS.
	Concurrency int
	Logger      *slog.Logger
}

// Finding describes a recorded artifact that no longer verifies.
type Finding struct {
	Key    string
	Dest   string
	Reason string
	Actual string
}

// Report is the outcome of Verify.
type Report struct {
	Path        string
	ChainIntact bool
	// Break is set when ChainIntact is false.
	Break *ledger.ChainError
	// Rows counts trusted non-sentinel rows.
	Rows         int
	Finalized    bool
	Verified     []string
	DigestFailed []Finding
	// Unknown lists trusted rows whose key the catalog does not know.
	Unknown []string
	// Missing lists catalog artifacts with no trusted row.
	Missing []string
}

// OK reports whether the chain is intact and every recorded artifact verified.
func (r *Report) OK() bool {
	return r.ChainIntact && len(r.DigestFailed) == 0
}

// Verify audits the ledger at path against the catalog artifacts.
func Verify(ctx context.Context, path string, artifacts []catalog.Artifact, opts Options) (*Report, error) {
	logger := logging.NewComponentLogger(opts.Logger, "audit")
	report := &Report{Path: path, ChainIntact: true}

	var rows []ledger.Row
	summary, err := ledger.ReplayFile(path, func(row ledger.Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		var chainErr *ledger.ChainError
		if !errors.As(err, &chainErr) {
			return nil, fmt.Errorf("replay ledger: %w", err)
		}
		report.ChainIntact = false
		report.Break = chainErr
		logger.Error("ledger chain broken",
			logging.Int("row", chainErr.Row),
			logging.Int("line", chainErr.Line),
			logging.String(logging.FieldArtifactKey, chainErr.Key),
			logging.Error(chainErr),
			logging.String(logging.FieldEventType, "chain_broken"),
			logging.String(logging.FieldErrorHint, "delete the ledger and start over; prior records cannot be trusted"),
		)
	}
	report.Rows = summary.Rows
	report.Finalized = summary.Finalized

	index := catalog.Index(artifacts)
	type check struct {
		row      ledger.Row
		artifact catalog.Artifact
	}
	var checks []check
	recorded := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		recorded[row.Key] = struct{}{}
		artifact, ok := index[row.Key]
		if !ok {
			report.Unknown = append(report.Unknown, row.Key)
			continue
		}
		checks = append(checks, check{row: row, artifact: artifact})
	}
	for _, a := range artifacts {
		if _, ok := recorded[a.Key]; !ok {
			report.Missing = append(report.Missing, a.Key)
		}
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	findings := make([]*Finding, len(checks))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i, c := range checks {
		group.Go(func() error {
			finding, err := recheck(gctx, c.row, c.artifact)
			if err != nil {
				return err
			}
			findings[i] = finding
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for i, c := range checks {
		if f := findings[i]; f != nil {
			report.DigestFailed = append(report.DigestFailed, *f)
			logger.Warn("recorded artifact failed re-verification",
				logging.String(logging.FieldArtifactKey, f.Key),
				logging.String("dest", f.Dest),
				logging.String("reason", f.Reason),
				logging.String(logging.FieldEventType, "artifact_degraded"),
				logging.String(logging.FieldErrorHint, "remove the file and fetch it again"),
				logging.String(logging.FieldImpact, "artifact no longer matches its ledger row"),
			)
			continue
		}
		report.Verified = append(report.Verified, c.row.Key)
	}
	sort.Strings(report.Missing)

	logger.Info("ledger audit complete",
		logging.Bool("chain_intact", report.ChainIntact),
		logging.Int("verified", len(report.Verified)),
		logging.Int("digest_failed", len(report.DigestFailed)),
		logging.Int("unknown", len(report.Unknown)),
		logging.Int("missing", len(report.Missing)),
	)
	return report, nil
}

// recheck returns nil when the file still matches the recorded digest.
func recheck(ctx context.Context, row ledger.Row, artifact catalog.Artifact) (*Finding, error) {
	verifier := checksum.NewVerifier(artifact.Dest, row.Digest)
	result, err := verifier.Verify(ctx)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, fs.ErrNotExist) {
			reason = "file missing"
		}
		return &Finding{Key: row.Key, Dest: artifact.Dest, Reason: reason}, nil
	}
	switch result.Outcome {
	case checksum.OutcomeMatch:
		return nil, nil
	case checksum.OutcomeMismatch:
		return &Finding{Key: row.Key, Dest: artifact.Dest, Reason: "digest mismatch", Actual: result.Actual}, nil
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("verification of %s did not complete", row.Key)
	}
}
