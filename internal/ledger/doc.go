// Package ledger maintains the append-only hash-chained record of verified
// artifacts.
//
// The file is CSV with the header "artifactKey,digest,timestamp,rowHash".
// Every row hash is the lowercase hex SHA-256 of the previous row hash, the
// key, the digest and the timestamp joined by commas; the first row chains
// from the SHA-256 of the header line. A finalized ledger ends with an
// "end-of-ledger" row and accepts no further appends.
//
// One process writes a ledger at a time, enforced with a lock file next to
// the ledger. Appends are serialized and each row is synced to disk before
// Append returns.
package ledger
