package ledger

import (
	"strings"

	"fetchledger/internal/checksum"
)

const (
	// Header is the first line of every ledger file.
	Header = "artifactKey,digest,timestamp,rowHash"
	// SentinelKey marks the final row of a finalized ledger.
	SentinelKey = "end-of-ledger"
	// TimestampLayout formats row timestamps in UTC.
	TimestampLayout = "2006-01-02 15:04:05"
)

// SeedHash is the chain value the first row links to.
var SeedHash = checksum.String(Header)

// Row is one ledger entry.
type Row struct {
	Key       string
	Digest    string
	Timestamp string
	Hash      string
}

// IsSentinel reports whether r is the end-of-ledger row.
func (r Row) IsSentinel() bool { return r.Key == SentinelKey }

// RowHash computes the chain hash of a row from the previous row hash.
func RowHash(prev, key, digest, timestamp string) string {
	return checksum.String(strings.Join([]string{prev, key, digest, timestamp}, ","))
}

func (r Row) record() []string {
	return []string{r.Key, r.Digest, r.Timestamp, r.Hash}
}
