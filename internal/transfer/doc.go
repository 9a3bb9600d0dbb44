// Package transfer drives a single resumable HTTP GET into a destination file.
//
// A Transfer resumes from the current on-disk length with a byte-range
// request and writes at explicit offsets. It reports ErrStalled when no bytes
// arrive within the stall window, ErrHalted when cancelled, and a
// SizeMismatchError when the byte count disagrees with the server-declared
// total. Transfers create parent directories but never delete files.
package transfer
