// Package types provides shared domain types for docsync.
//
// The types here cross package boundaries: the sync agent produces ParsedPath and
// FileEvent values, the ingestion service persists Client, Case, Document and
// SyncQueueItem records, the pipeline writes Chunk rows, and search returns Citation
// values.
//
// # Processing status
//
// Document.Status follows a forward-only state machine:
//
//	pending -> extracting -> [ocr] -> canonicalizing -> chunking -> embedding -> ready
//
// failed is reachable from every non-terminal state. A re-index resets any state to
// pending. ProcessingStatus.CanTransition encodes these rules.
//
// # Queue items
//
// SyncQueueItem review is one-way: only pending items can be approved, rejected or
// auto-approved.
package types
