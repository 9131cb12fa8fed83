// Package index persists batch state in SQLite.
//
// The index is the source of truth for batch lifecycle: the batches table
// tracks status, retry budget, artifact keys, and processing metrics;
// attachments is an immutable record of uploaded side files; and
// processing_stages is an append-only log of stage attempts. Status
// transitions are forward-only (uploaded, queued, processing, then
// completed or failed) with the single exception of failed back to queued
// for a bounded retry. Every transition is a guarded UPDATE carrying the
// expected current status in its WHERE clause, so concurrent workers can
// never regress a terminal row.
//
// All reads that serve user requests are owner-scoped.
package index
