// Package preflight checks that a run can make progress before any artifact
// is fetched: the download and state directories must be writable, the
// download volume must hold the bytes still outstanding, and at least one
// mirror should answer.
//
// Directory and space failures are blocking. An unreachable mirror is only
// advisory because the pool quarantines it during the run anyway.
package preflight
