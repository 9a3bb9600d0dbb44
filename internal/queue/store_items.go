package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Track inserts a pending row for every entry that is not journalled yet and
// marks keys present in recorded as completed. Existing rows keep their
// history. It returns the number of new rows.
func (s *Store) Track(ctx context.Context, entries []Entry, recorded map[string]bool) (int, error) {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now())
	var inserted int
	err := retryOnBusy(ctx, func() error {
		inserted = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		insert, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO items (key, filename, status, updated_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer insert.Close()

		complete, err := tx.PrepareContext(ctx, `UPDATE items SET status = ?, last_error = NULL, error_kind = NULL, updated_at = ? WHERE key = ? AND status != ?`)
		if err != nil {
			return err
		}
		defer complete.Close()

		for _, entry := range entries {
			res, err := insert.ExecContext(ctx, entry.Key, entry.Filename, StatusPending, now)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
			if recorded[entry.Key] {
				if _, err := complete.ExecContext(ctx, StatusCompleted, now, entry.Key, StatusCompleted); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("track artifacts: %w", err)
	}
	return inserted, nil
}

// MarkRunning records the start of an attempt.
func (s *Store) MarkRunning(ctx context.Context, key, mirror string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE items SET status = ?, attempts = attempts + 1, last_mirror = COALESCE(?, last_mirror), updated_at = ? WHERE key = ?`,
		StatusRunning, nullableString(mirror), formatTime(time.Now()), key,
	)
	if err != nil {
		return fmt.Errorf("mark %s running: %w", key, err)
	}
	return nil
}

// Outcome is the journalled result of one attempt.
type Outcome struct {
	Status    Status
	Mirror    string
	Bytes     int64
	Error     string
	ErrorKind string
}

// RecordOutcome stores the result of an attempt. An empty mirror keeps the
// one recorded by MarkRunning.
func (s *Store) RecordOutcome(ctx context.Context, key string, outcome Outcome) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE items SET status = ?, last_mirror = COALESCE(?, last_mirror), bytes = ?, last_error = ?, error_kind = ?, updated_at = ? WHERE key = ?`,
		outcome.Status, nullableString(outcome.Mirror), outcome.Bytes, nullableString(outcome.Error), nullableString(outcome.ErrorKind), formatTime(time.Now()), key,
	)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", key, err)
	}
	return nil
}

// ResetRunning returns rows left running by an interrupted process to pending.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE items SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, formatTime(time.Now()), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset running items: %w", err)
	}
	return res.RowsAffected()
}

// Get returns the row for key, or nil when it is not journalled.
func (s *Store) Get(ctx context.Context, key string) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM items WHERE key = ?`, key)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return item, nil
}

// List returns rows ordered by key, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
