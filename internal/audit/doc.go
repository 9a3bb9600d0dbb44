// Package audit re-validates a ledger without downloading anything.
//
// Verify replays the hash chain exactly as a resume does and then re-hashes
// every trusted artifact on disk. A broken chain and a degraded artifact are
// reported separately: an artifact that fails re-verification never stops
// the chain walk, and rows after a chain break are never trusted.
package audit
