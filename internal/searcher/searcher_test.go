package searcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/embedder"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

// fakeStorage records hybrid queries and returns canned results
type fakeStorage struct {
	storage.Storage
	results []storage.HybridResult
	err     error
	queries []storage.HybridQuery
}

func (f *fakeStorage) SearchHybrid(_ context.Context, q storage.HybridQuery) ([]storage.HybridResult, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > q.Limit {
		return f.results[:q.Limit], nil
	}
	return f.results, nil
}

// countingEmbedder wraps the local embedder and counts calls
type countingEmbedder struct {
	embedder.Embedder
	calls int
	err   error
}

func (c *countingEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.Embedder.GenerateEmbedding(ctx, req)
}

func defaults() config.SearchConfig {
	return config.SearchConfig{VectorWeight: 0.7, FTSWeight: 0.3, TopK: 10}
}

func ptr(f float64) *float64 { return &f }

func TestSearch_Citations(t *testing.T) {
	store := &fakeStorage{results: []storage.HybridResult{
		{ChunkID: 7, DocumentID: "d1", Filename: "w2.pdf", Content: strings.Repeat("w", 600), PageStart: 1, PageEnd: 2, Score: 1.3},
		{ChunkID: 3, DocumentID: "d2", Filename: "k1.pdf", Content: "partnership income", PageStart: 4, PageEnd: 4, Score: 0.42},
		{ChunkID: 9, DocumentID: "d3", Filename: "x.pdf", Content: "noise", PageStart: 1, PageEnd: 1, Score: -0.1},
	}}
	emb := &countingEmbedder{Embedder: embedder.NewLocal(16)}
	s := NewSearcher(store, emb, defaults())

	resp, err := s.Search(context.Background(), SearchRequest{Query: "wages"})
	require.NoError(t, err)

	assert.Equal(t, 1, emb.calls, "query embedded once")
	assert.Equal(t, "wages", resp.Query)
	require.Len(t, resp.Citations, 3)
	assert.Equal(t, 3, resp.TotalResults)

	first := resp.Citations[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, 1.0, first.RelevanceScore, "clamped to 1")
	assert.Len(t, first.Snippet, SnippetLength)
	assert.Equal(t, 1, first.PageStart)
	assert.Equal(t, 2, first.PageEnd)
	assert.NoError(t, first.Validate())

	assert.Equal(t, 2, resp.Citations[1].Rank)
	assert.InDelta(t, 0.42, resp.Citations[1].RelevanceScore, 1e-9)
	assert.Equal(t, "partnership income", resp.Citations[1].Snippet)
	assert.Equal(t, 0.0, resp.Citations[2].RelevanceScore, "clamped to 0")

	require.Len(t, store.queries, 1)
	q := store.queries[0]
	assert.Equal(t, 0.7, q.VectorWeight)
	assert.Equal(t, 0.3, q.TextWeight)
	assert.Equal(t, 10, q.Limit)
	assert.Len(t, q.Vector, 16)
}

func TestSearch_RequestOverrides(t *testing.T) {
	store := &fakeStorage{}
	s := NewSearcher(store, embedder.NewLocal(8), defaults())

	filters := &storage.SearchFilters{ClientCode: "1001", Tags: []string{"W2"}}
	_, err := s.Search(context.Background(), SearchRequest{
		Query: "wages", TopK: 3, VectorWeight: ptr(0), TextWeight: ptr(1), Filters: filters,
	})
	require.NoError(t, err)

	q := store.queries[0]
	assert.Equal(t, 3, q.Limit)
	assert.Equal(t, 0.0, q.VectorWeight, "explicit zero weight is honoured")
	assert.Equal(t, 1.0, q.TextWeight)
	assert.Same(t, filters, q.Filters)
}

func TestSearch_Validation(t *testing.T) {
	s := NewSearcher(&fakeStorage{}, embedder.NewLocal(8), defaults())

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"empty query", SearchRequest{Query: "  "}},
		{"top_k too large", SearchRequest{Query: "q", TopK: 51}},
		{"negative top_k", SearchRequest{Query: "q", TopK: -1}},
		{"vector weight above 1", SearchRequest{Query: "q", VectorWeight: ptr(1.5)}},
		{"negative text weight", SearchRequest{Query: "q", TextWeight: ptr(-0.1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSearch_Errors(t *testing.T) {
	emb := &countingEmbedder{Embedder: embedder.NewLocal(8), err: errors.New("provider down")}
	s := NewSearcher(&fakeStorage{}, emb, defaults())
	_, err := s.Search(context.Background(), SearchRequest{Query: "wages"})
	assert.ErrorContains(t, err, "query embedding")

	s = NewSearcher(&fakeStorage{err: errors.New("db closed")}, embedder.NewLocal(8), defaults())
	_, err = s.Search(context.Background(), SearchRequest{Query: "wages"})
	assert.ErrorContains(t, err, "search chunks")
}

func TestSearch_Cache(t *testing.T) {
	store := &fakeStorage{results: []storage.HybridResult{
		{ChunkID: 1, DocumentID: "d1", Filename: "a.pdf", Content: "alpha", PageStart: 1, PageEnd: 1, Score: 0.5},
	}}
	emb := &countingEmbedder{Embedder: embedder.NewLocal(8)}
	s := NewSearcher(store, emb, defaults())
	ctx := context.Background()

	first, err := s.Search(ctx, SearchRequest{Query: "alpha", UseCache: true})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	first.Citations[0].Snippet = "mutated"

	second, err := s.Search(ctx, SearchRequest{Query: "alpha", UseCache: true})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "alpha", second.Citations[0].Snippet)
	assert.Len(t, store.queries, 1)

	_, err = s.Search(ctx, SearchRequest{Query: "alpha", UseCache: true, TopK: 5})
	require.NoError(t, err)
	assert.Len(t, store.queries, 2, "different limit is a different key")

	s.InvalidateCache()
	third, err := s.Search(ctx, SearchRequest{Query: "alpha", UseCache: true})
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
}

func TestSearch_CacheExpiry(t *testing.T) {
	store := &fakeStorage{}
	s := NewSearcher(store, embedder.NewLocal(8), defaults(), WithCacheTTL(time.Nanosecond))
	ctx := context.Background()

	_, err := s.Search(ctx, SearchRequest{Query: "alpha", UseCache: true})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	resp, err := s.Search(ctx, SearchRequest{Query: "alpha", UseCache: true})
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
}

func TestComputeQueryHash_TagOrder(t *testing.T) {
	a := computeQueryHash("q", storage.HybridQuery{Limit: 10, Filters: &storage.SearchFilters{Tags: []string{"W2", "1099"}}})
	b := computeQueryHash("q", storage.HybridQuery{Limit: 10, Filters: &storage.SearchFilters{Tags: []string{"1099", "W2"}}})
	c := computeQueryHash("q", storage.HybridQuery{Limit: 10})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSearch_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := embedder.NewLocal(32)

	client := &types.Client{ClientCode: "1001", Name: "Smith", ClientType: types.ClientIndividual, ApprovalStatus: types.ApprovalApproved}
	require.NoError(t, store.CreateClient(ctx, client))
	c := &types.Case{ClientID: client.ID, TaxYear: 2024}
	require.NoError(t, store.CreateCase(ctx, c))

	doc := &types.Document{CaseID: c.ID, Filename: "w2.pdf", OriginalFilename: "w2.pdf", MimeType: "application/pdf", FileHash: "abc", Tags: []string{"W2"}}
	require.NoError(t, store.CreateDocument(ctx, doc))

	texts := []string{"wages tips and other compensation", "mortgage interest paid on residence"}
	batch, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	require.NoError(t, err)
	chunks := make([]*types.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &types.Chunk{ChunkIndex: i, Content: text, PageStart: i + 1, PageEnd: i + 1, Embedding: batch.Embeddings[i].Vector}
	}
	require.NoError(t, store.ReplaceChunks(ctx, doc.ID, chunks))
	require.NoError(t, store.CompleteDocument(ctx, doc.ID, storage.Completion{PageCount: 2, EmbeddingModel: emb.Model(), EmbeddingDim: emb.Dimension()}))

	s := NewSearcher(store, emb, defaults())
	resp, err := s.Search(ctx, SearchRequest{Query: "wages compensation"})
	require.NoError(t, err)
	require.Len(t, resp.Citations, 2)
	assert.Equal(t, "wages tips and other compensation", resp.Citations[0].Snippet)
	assert.Equal(t, doc.ID, resp.Citations[0].DocumentID)
	assert.GreaterOrEqual(t, resp.Citations[0].RelevanceScore, resp.Citations[1].RelevanceScore)
	for _, c := range resp.Citations {
		assert.NoError(t, c.Validate())
	}
}
