package runner

import (
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"fetchledger/internal/catalog"
	"fetchledger/internal/faults"
	"fetchledger/internal/ledger"
	"fetchledger/internal/logging"
	"fetchledger/internal/notifications"
	"fetchledger/internal/scheduler"
)

// Failure is the last unsuccessful outcome of an artifact still pending.
type Failure struct {
	Key    string
	Kind   scheduler.UnitState
	Mirror string
	Error  string
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	LedgerPath string
	Total      int
	Verified   int
	// DigestFailed counts pending artifacts whose last attempt had the wrong digest.
	DigestFailed int
	// Pending counts catalog artifacts the ledger has not recorded.
	Pending     int
	Passes      int
	Bytes       int64
	ChainIntact bool
	ChainError  error
	Finalized   bool
	// Interrupted is set when a stop or signal ended the run early.
	Interrupted bool
	Duration    time.Duration
	Failures    []Failure
}

// Complete reports whether every catalog artifact is recorded in an intact ledger.
func (s *Summary) Complete() bool {
	return s != nil && s.ChainIntact && s.Pending == 0
}

func (s *Summary) notification() notifications.RunSummary {
	return notifications.RunSummary{
		RunID:        s.RunID,
		Verified:     s.Verified,
		DigestFailed: s.DigestFailed,
		Pending:      s.Pending,
		Passes:       s.Passes,
		Duration:     s.Duration,
	}
}

func (s *Summary) log(logger *slog.Logger) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_summary"),
		logging.Int("verified", s.Verified),
		logging.Int("digest_failed", s.DigestFailed),
		logging.Int("pending", s.Pending),
		logging.Int("passes", s.Passes),
		logging.String("downloaded", humanize.IBytes(uint64(max(s.Bytes, 0)))),
		logging.Bool("chain_intact", s.ChainIntact),
		logging.Bool("finalized", s.Finalized),
		logging.Bool("interrupted", s.Interrupted),
		logging.Duration("duration", s.Duration.Round(time.Second)),
	}
	if s.Pending > 0 {
		logger.Warn("run finished with pending artifacts", logging.Args(attrs...)...)
		return
	}
	logger.Info("run finished", logging.Args(attrs...)...)
}

func failuresFrom(artifacts []catalog.Artifact, l *ledger.Ledger, last map[string]scheduler.Outcome) []Failure {
	var out []Failure
	for _, a := range artifacts {
		if l.Has(a.Key) {
			continue
		}
		o, ok := last[a.Key]
		if !ok || o.Kind == scheduler.UnitCompleted {
			continue
		}
		f := Failure{Key: a.Key, Kind: o.Kind, Mirror: o.Mirror}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// kindOf maps a unit state onto the error taxonomy used in logs and the journal.
func kindOf(out scheduler.Outcome) faults.Kind {
	if out.Kind == scheduler.UnitDigestMismatch {
		return faults.KindDigest
	}
	return faults.KindOf(out.Err)
}
