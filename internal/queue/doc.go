// Package queue journals per-artifact attempt state in SQLite.
//
// The journal records, for every catalog artifact, its last status, the
// number of attempts, the last mirror used and the last error, plus one row
// per run with its summary counts. It backs the status command and survives
// restarts, but it is advisory: the ledger alone decides whether an artifact
// is verified. A run reconciles the journal against the ledger on start.
//
// Schema changes bump schemaVersion in schema.go; users delete the journal
// database to adopt the new schema.
package queue
