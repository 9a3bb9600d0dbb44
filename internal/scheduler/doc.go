// Package scheduler runs a bounded pool of work units, each of which fetches
// and verifies one artifact, and dispatches every unit's outcome exactly once:
// verified artifacts are appended to the ledger, corrupt files are deleted and
// failed mirrors are reported to the pool.
//
// The scheduler moves between Stopped, Running and Paused. Pausing cancels the
// running units cooperatively and parks them; resuming re-submits the parked
// artifacts ahead of new work. The run stops on its own once the work source
// is exhausted and nothing is active or parked.
package scheduler
