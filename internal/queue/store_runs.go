package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, id string, started time.Time) error {
	if _, err := s.execWithRetry(ctx, `INSERT INTO runs (id, started_at) VALUES (?, ?)`, id, formatTime(started)); err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores the summary of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	_, err := s.execWithRetry(ctx,
		`UPDATE runs SET finished_at = ?, passes = ?, verified = ?, digest_failed = ?, pending = ?, chain_intact = ?, error = ? WHERE id = ?`,
		formatTime(finished), run.Passes, run.Verified, run.DigestFailed, run.Pending, boolToInt(run.ChainIntact), nullableString(run.Error), run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// LastRun returns the most recently started run, or nil.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	return run, nil
}
