package runner

import (
	"context"
	"log/slog"

	"fetchledger/internal/logging"
	"fetchledger/internal/queue"
	"fetchledger/internal/scheduler"
)

// journalObserver mirrors unit transitions into the journal. Journal writes
// are advisory, so failures are only logged.
type journalObserver struct {
	store  *queue.Store
	ctx    context.Context
	logger *slog.Logger
}

func (o *journalObserver) UnitStarted(u *scheduler.Unit) {
	if err := o.store.MarkRunning(o.ctx, u.Artifact().Key, ""); err != nil {
		o.logger.Warn("journal update failed", logging.String(logging.FieldArtifactKey, u.Artifact().Key), logging.Error(err))
	}
}

func (o *journalObserver) UnitFinished(u *scheduler.Unit, out scheduler.Outcome) {
	rec := queue.Outcome{
		Status:    statusFor(out.Kind),
		Mirror:    out.Mirror,
		Bytes:     out.Bytes,
		ErrorKind: string(kindOf(out)),
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	if err := o.store.RecordOutcome(o.ctx, u.Artifact().Key, rec); err != nil {
		o.logger.Warn("journal update failed", logging.String(logging.FieldArtifactKey, u.Artifact().Key), logging.Error(err))
	}
}

func statusFor(kind scheduler.UnitState) queue.Status {
	switch kind {
	case scheduler.UnitCompleted:
		return queue.StatusCompleted
	case scheduler.UnitTimedOut:
		return queue.StatusTimedOut
	case scheduler.UnitHalted:
		return queue.StatusHalted
	case scheduler.UnitDigestMismatch:
		return queue.StatusDigestMismatch
	case scheduler.UnitRunning:
		return queue.StatusRunning
	case scheduler.UnitPending:
		return queue.StatusPending
	default:
		return queue.StatusFailed
	}
}
