// Package searcher implements hybrid retrieval over document chunks.
//
// A search embeds the query once and asks storage to score every eligible
// chunk (document ready, not deleted, embedded with a matching dimension):
//
//	score = vector_score*vector_weight + text_score*text_weight
//
// vector_score is 1 - cosine distance to the query embedding. text_score is
// the backend's lexical rank (FTS5 bm25 on SQLite, ts_rank on Postgres).
// Weights default to 0.7 and 0.3 and need not sum to 1.
//
// Results are ordered by score, truncated to TopK (default 10, at most 50) and
// returned as citations with a 1-based rank, a 500-character snippet and the
// score clamped to [0,1] as relevance.
//
// Filters narrow by case, client code or tags; the tag filter matches documents
// carrying any of the given tags.
//
// # Caching
//
// With UseCache set, responses are kept in an LRU for a few minutes keyed by
// query, weights, limit and filters. The pipeline calls InvalidateCache whenever
// a document becomes ready or is deleted.
package searcher
