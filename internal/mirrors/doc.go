// Package mirrors rotates downloads across mirror base URLs and quarantines
// mirrors that fail repeatedly.
//
// The good and quarantine lists persist as one-URL-per-line files so the
// rotation survives restarts. Every method is serialized behind one mutex.
package mirrors
