package queue

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const itemColumns = "key, filename, status, attempts, last_mirror, last_error, error_kind, bytes, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		key        string
		filename   string
		statusStr  string
		attempts   int
		lastMirror sql.NullString
		lastError  sql.NullString
		errorKind  sql.NullString
		bytes      int64
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&key, &filename, &statusStr, &attempts, &lastMirror, &lastError, &errorKind, &bytes, &updatedRaw); err != nil {
		return nil, err
	}
	item := &Item{
		Key:        key,
		Filename:   filename,
		Status:     Status(statusStr),
		Attempts:   attempts,
		LastMirror: lastMirror.String,
		LastError:  lastError.String,
		ErrorKind:  errorKind.String,
		Bytes:      bytes,
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

const runColumns = "id, started_at, finished_at, passes, verified, digest_failed, pending, chain_intact, error"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		startedRaw  string
		finishedRaw sql.NullString
		chainIntact int
		errMsg      sql.NullString
	)
	if err := scanner.Scan(&run.ID, &startedRaw, &finishedRaw, &run.Passes, &run.Verified, &run.DigestFailed, &run.Pending, &chainIntact, &errMsg); err != nil {
		return nil, err
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	run.ChainIntact = chainIntact != 0
	run.Error = errMsg.String
	return &run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// parseTimeString accepts RFC 3339 values written by this package and the
// "YYYY-MM-DD HH:MM:SS" form produced by SQLite's CURRENT_TIMESTAMP.
func parseTimeString(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// makePlaceholders returns "?,?,...?" with count markers.
func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
