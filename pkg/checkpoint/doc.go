// Package checkpoint persists the per-source watermark: the Unix timestamp up to
// which audit events have been delivered.
//
// Each source identity owns one file named after the input, holding the
// decimal watermark and nothing else. A missing or unparsable file reads as
// "absent" so the collector falls back to a cold start instead of failing.
// Writes go through a temporary file, fsync and rename, so a crash leaves
// either the previous or the new value on disk.
//
// Stores do no locking. Callers must not run two collections for the same
// source concurrently.
package checkpoint
