// Package notifications pushes run events to ntfy.
//
// Only two events matter to an unattended fetch: a run finished (with its
// verified, digest-failed and pending counts) and the ledger chain was found
// broken. Without a configured topic the service is a no-op.
package notifications
