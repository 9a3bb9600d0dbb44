// Command fetchledger downloads catalogued artifacts from a rotating mirror
// pool, verifies each against its SHA-256 digest, and records every verified
// artifact in a tamper-evident hash-chained CSV ledger.
//
// Subcommands:
//
//	run              fetch every pending artifact, with a live progress bar
//	verify           audit the ledger chain and re-check recorded files
//	status           show journalled per-artifact state and the last run
//	mirrors          list, refresh or release the mirror pool
//	ledger           inspect or finalize the ledger
//	config           create or validate the configuration file
//	logs             print or follow the run log
//	test-notify      send a test notification
//
// A running fetch pauses and resumes on SIGUSR1. SIGINT or SIGTERM drains
// running transfers within scheduler.shutdown_timeout; a second signal aborts
// them.
package main
