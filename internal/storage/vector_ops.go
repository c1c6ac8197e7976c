package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// searchHybrid scores every eligible chunk by cosine similarity and BM25, combines
// the two with the query weights and returns the top results fully hydrated.
// Eligible means the document is ready, not deleted, passes the filters and the
// chunk carries an embedding of the query's dimension.
func searchHybrid(ctx context.Context, q querier, query HybridQuery) ([]HybridResult, error) {
	if len(query.Vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if query.Limit <= 0 {
		return []HybridResult{}, nil
	}

	queryBlob := serializeVector(query.Vector)
	match := sanitizeFTSQuery(query.Text)

	var args []interface{}
	sqlQuery := `
		SELECT c.id, d.id, d.filename, c.content, c.page_start, c.page_end, `
	// Use SQL-side distance when sqlite-vec is available
	if VectorExtensionAvailable {
		sqlQuery += "1.0 - vec_distance_cosine(c.embedding, ?), NULL"
		args = append(args, queryBlob)
	} else {
		sqlQuery += "0.0, c.embedding"
	}
	if match != "" {
		sqlQuery += ", fts.rank"
	} else {
		sqlQuery += ", NULL"
	}
	sqlQuery += `
		FROM chunks c
		INNER JOIN documents d ON d.id = c.document_id
		INNER JOIN cases cs ON cs.id = d.case_id
		INNER JOIN clients cl ON cl.id = cs.client_id`
	if match != "" {
		sqlQuery += `
		LEFT JOIN (
			SELECT rowid, bm25(chunks_fts) AS rank FROM chunks_fts WHERE chunks_fts MATCH ?
		) fts ON fts.rowid = c.id`
		args = append(args, match)
	}
	sqlQuery += `
		WHERE d.processing_status = 'ready'
		  AND d.deleted_at IS NULL
		  AND c.embedding IS NOT NULL
		  AND length(c.embedding) = ?`
	args = append(args, len(queryBlob))

	sqlQuery, args = applySearchFilters(sqlQuery, args, query.Filters)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute hybrid search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]HybridResult, 0, query.Limit)
	for rows.Next() {
		var r HybridResult
		var vectorBlob []byte
		var rank sql.NullFloat64
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Filename, &r.Content, &r.PageStart, &r.PageEnd,
			&r.VectorScore, &vectorBlob, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if vectorBlob != nil {
			r.VectorScore = cosineSimilarity(query.Vector, deserializeVector(vectorBlob))
		}
		if rank.Valid {
			r.TextScore = normalizeBM25(rank.Float64)
		}
		r.Score = r.VectorScore*query.VectorWeight + r.TextScore*query.TextWeight
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// applySearchFilters adds case, client and tag conditions to a search query
func applySearchFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.CaseID != "" {
		query += " AND d.case_id = ?"
		args = append(args, filters.CaseID)
	}
	if filters.ClientCode != "" {
		query += " AND cl.client_code = ?"
		args = append(args, filters.ClientCode)
	}
	if len(filters.Tags) > 0 {
		placeholders := make([]string, len(filters.Tags))
		for i, tag := range filters.Tags {
			placeholders[i] = "?"
			args = append(args, tag)
		}
		query += " AND EXISTS (SELECT 1 FROM json_each(d.tags) WHERE json_each.value IN (" +
			strings.Join(placeholders, ",") + "))"
	}

	return query, args
}

// normalizeBM25 maps an FTS5 bm25 value (negative, more negative is better)
// onto [0, 1) with better matches scoring higher
func normalizeBM25(bm25 float64) float64 {
	a := math.Abs(bm25)
	return a / (1.0 + a)
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

var ftsTokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// sanitizeFTSQuery turns free text into an FTS5 expression that matches any of
// its words. Each word is quoted so operators and syntax characters in user
// input are treated as plain terms.
func sanitizeFTSQuery(query string) string {
	tokens := ftsTokenPattern.FindAllString(query, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}
