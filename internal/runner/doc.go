// Package runner drives one fetch job end to end.
//
// A run takes the single-instance lock for the state directory, resumes (or
// creates) the ledger, loads and seeds the mirror pool, reads the catalog and
// then schedules every artifact the ledger has not recorded yet. Artifacts
// that fail are left pending and retried in later passes, up to
// scheduler.max_passes. The SQLite journal mirrors per-artifact attempt state
// for the status command; the ledger alone decides what counts as verified.
package runner
