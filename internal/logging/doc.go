// Package logging assembles structured slog loggers for fetchledger.
//
// It owns the console and JSON handlers, routes file and terminal output
// through a tee handler, and exposes context helpers so scheduler and
// transfer code tag lines with run IDs, artifact keys and pass numbers.
// A no-op logger is provided for tests and wiring code that cannot fail.
package logging
