// Package config loads, normalizes, and validates fetchledger configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FETCHLEDGER_MIRRORS. The Config type centralizes every knob the runner and
// CLI need: where artifacts land, where the ledger and mirror lists live, how
// long a transfer may stall, and how many units run at once.
//
// Validation failures wrap faults.ErrConfiguration and are reported before any
// network activity starts.
package config
