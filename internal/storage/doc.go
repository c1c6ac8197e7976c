// Package storage persists the document-sync data model: clients, cases,
// documents, chunks with their embeddings, the approval queue, client
// relationships and field extractions.
//
// # Backends
//
// SQLiteStorage is the default and is built on one of two drivers:
//
//   - CGO build (sqlite_vec tag): github.com/mattn/go-sqlite3 with the
//     sqlite-vec extension. Cosine distance is computed in SQL.
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
//   - Pure Go build (default): modernc.org/sqlite. Cosine similarity is
//     computed in Go over the candidate rows.
//
//     CGO_ENABLED=0 go build ./...
//
// The postgres subpackage implements the same interface on pgvector and
// tsvector for deployments that share one database across hosts.
//
// # Search
//
// SearchHybrid ranks every eligible chunk by
//
//	score = vector_similarity*VectorWeight + text_rank*TextWeight
//
// where text_rank is the FTS5 bm25 value mapped onto [0, 1). Chunks of
// documents that are not ready, are soft-deleted, or lack an embedding never
// appear in results.
//
// # Transactions
//
// BeginTx returns a Tx carrying the operations used when approving a queue
// item, so the client, its case and the review commit together:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	if err := tx.ReviewQueueItem(ctx, itemID, review); err != nil {
//	    return err
//	}
//	if err := tx.CreateClient(ctx, client); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Errors
//
// Lookups return ErrNotFound, inserts rejected by a unique constraint return
// ErrAlreadyExists, and reviewing a queue item twice returns ErrAlreadyReviewed.
package storage
