package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"fetchledger/internal/checksum"
)

// Summary describes a replayed chain.
type Summary struct {
	// Rows counts valid non-sentinel rows.
	Rows      int
	LastHash  string
	Finalized bool
}

// Replay walks the ledger in r from the header, recomputing every row hash.
// visit is called for each valid non-sentinel row in file order; a visit
// error stops the walk and is returned as is. The first invalid row stops the
// walk with a *ChainError, and the Summary covers only the rows before it.
func Replay(r io.Reader, visit func(Row) error) (Summary, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	summary := Summary{LastHash: SeedHash}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return summary, &ChainError{Row: 0, Line: 1, Reason: "missing header"}
	}
	if err != nil {
		return summary, &ChainError{Row: 0, Line: 1, Reason: fmt.Sprintf("unreadable header: %v", err)}
	}
	if strings.Join(header, ",") != Header {
		return summary, &ChainError{Row: 0, Line: 1, Reason: fmt.Sprintf("unexpected header %q", strings.Join(header, ","))}
	}

	index := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		index++
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.StartLine
			}
			return summary, &ChainError{Row: index, Line: line, Reason: fmt.Sprintf("malformed row: %v", err)}
		}
		line, _ := reader.FieldPos(0)
		if len(record) != 4 {
			return summary, &ChainError{Row: index, Line: line, Reason: fmt.Sprintf("expected 4 fields, found %d", len(record))}
		}
		row := Row{Key: record[0], Digest: record[1], Timestamp: record[2], Hash: record[3]}

		if summary.Finalized {
			return summary, &ChainError{Row: index, Line: line, Key: row.Key, Reason: "row after end-of-ledger"}
		}
		computed := RowHash(summary.LastHash, row.Key, row.Digest, row.Timestamp)
		if computed != row.Hash {
			return summary, &ChainError{Row: index, Line: line, Key: row.Key, Stored: row.Hash, Computed: computed}
		}
		if row.IsSentinel() && row.Digest != checksum.EmptyDigest {
			return summary, &ChainError{Row: index, Line: line, Key: row.Key, Reason: "end-of-ledger row carries a non-empty digest"}
		}

		summary.LastHash = computed
		if row.IsSentinel() {
			summary.Finalized = true
			continue
		}
		if visit != nil {
			if err := visit(row); err != nil {
				return summary, err
			}
		}
		summary.Rows++
	}
}

// ReplayFile opens path and replays it.
func ReplayFile(path string, visit func(Row) error) (Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return Summary{LastHash: SeedHash}, err
	}
	defer file.Close()
	return Replay(file, visit)
}
