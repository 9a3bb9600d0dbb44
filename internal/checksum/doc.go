// Package checksum streams files through SHA-256 and compares the result with
// an expected digest.
//
// Verification is cooperatively cancellable between buffer reads. A cancelled
// run reports OutcomeIncomplete, which callers must not treat as corruption.
package checksum
