// Package faults defines the error taxonomy shared by the transfer, verifier,
// ledger, and scheduler packages.
//
// Failures are tagged with sentinel markers through Wrap so callers can branch
// with errors.Is while still seeing the component and operation that failed.
// KindOf collapses an error into the short label written to logs and the
// attempt journal. Chain corruption and configuration errors are fatal; every
// other kind is recorded against a single artifact and never stops the pool.
package faults
