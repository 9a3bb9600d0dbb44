// Package logs reads the fetchledger log file for the `fetchledger logs`
// command.
//
// Last returns the final N lines with bounded memory, optionally filtered to
// one artifact or run. Follow polls the file from an offset and survives the
// file being truncated or replaced between polls.
package logs
