package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/embedder"
	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

const (
	// DefaultTopK is used when a request does not set TopK
	DefaultTopK = 10
	// MaxTopK bounds TopK
	MaxTopK = 50
	// SnippetLength is the citation snippet size in characters
	SnippetLength = 500

	defaultCacheSize = 1000
	defaultCacheTTL  = 5 * time.Minute
)

// ErrInvalidRequest is returned for malformed search requests
var ErrInvalidRequest = errors.New("invalid search request")

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query        string
	Filters      *storage.SearchFilters
	TopK         int
	VectorWeight *float64 // nil uses the configured default
	TextWeight   *float64 // nil uses the configured default
	UseCache     bool
}

// SearchResponse contains ranked citations and metadata
type SearchResponse struct {
	Query        string
	Citations    []types.Citation
	TotalResults int
	Duration     time.Duration
	CacheHit     bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs hybrid vector and lexical search over stored chunks
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	defaults config.SearchConfig
	cacheTTL time.Duration
	logger   *zap.Logger
	metrics  *metrics.Recorder

	cacheMu sync.Mutex
	cache   *lru.Cache[[32]byte, *cacheEntry]
}

// Option customizes a Searcher
type Option func(*Searcher)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Searcher) { s.metrics = m }
}

// WithCacheTTL sets how long cached responses stay valid
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Searcher) { s.cacheTTL = ttl }
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Storage, emb embedder.Embedder, defaults config.SearchConfig, opts ...Option) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](defaultCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	if defaults.TopK <= 0 {
		defaults.TopK = DefaultTopK
	}

	s := &Searcher{
		storage:  store,
		embedder: emb,
		defaults: defaults,
		cacheTTL: defaultCacheTTL,
		logger:   zap.NewNop(),
		cache:    cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search embeds the query once, scores eligible chunks and returns ranked citations
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	timer := metrics.NewTimer()

	q, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	key := computeQueryHash(req.Query, q)
	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = timer.Duration()
			return cached, nil
		}
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	q.Vector = emb.Vector

	results, err := s.storage.SearchHybrid(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	response := &SearchResponse{
		Query:        req.Query,
		Citations:    toCitations(results),
		TotalResults: len(results),
		Duration:     timer.Duration(),
	}

	s.metrics.RecordSearch(response.Duration, response.TotalResults)
	s.logger.Debug("search completed",
		zap.String("query", req.Query),
		zap.Int("results", response.TotalResults),
		zap.Duration("duration", response.Duration))

	if req.UseCache {
		s.storeInCache(key, response)
	}
	return response, nil
}

// resolve validates the request and fills defaults
func (s *Searcher) resolve(req SearchRequest) (storage.HybridQuery, error) {
	q := storage.HybridQuery{
		Text:         req.Query,
		VectorWeight: s.defaults.VectorWeight,
		TextWeight:   s.defaults.FTSWeight,
		Limit:        req.TopK,
		Filters:      req.Filters,
	}
	if strings.TrimSpace(req.Query) == "" {
		return q, fmt.Errorf("%w: query cannot be empty", ErrInvalidRequest)
	}
	if q.Limit == 0 {
		q.Limit = s.defaults.TopK
	}
	if q.Limit < 1 || q.Limit > MaxTopK {
		return q, fmt.Errorf("%w: top_k must be between 1 and %d", ErrInvalidRequest, MaxTopK)
	}
	if req.VectorWeight != nil {
		q.VectorWeight = *req.VectorWeight
	}
	if req.TextWeight != nil {
		q.TextWeight = *req.TextWeight
	}
	if q.VectorWeight < 0 || q.VectorWeight > 1 || q.TextWeight < 0 || q.TextWeight > 1 {
		return q, fmt.Errorf("%w: weights must be between 0 and 1", ErrInvalidRequest)
	}
	return q, nil
}

// toCitations assigns 1-based ranks, clamps scores and cuts snippets
func toCitations(results []storage.HybridResult) []types.Citation {
	citations := make([]types.Citation, len(results))
	for i, r := range results {
		citations[i] = types.Citation{
			DocumentID:       r.DocumentID,
			DocumentFilename: r.Filename,
			ChunkID:          r.ChunkID,
			PageStart:        r.PageStart,
			PageEnd:          r.PageEnd,
			Snippet:          snippet(r.Content),
			RelevanceScore:   clamp(r.Score),
			Rank:             i + 1,
		}
	}
	return citations
}

func snippet(content string) string {
	r := []rune(content)
	if len(r) <= SnippetLength {
		return content
	}
	return string(r[:SnippetLength])
}

func clamp(score float64) float64 {
	return min(1, max(0, score))
}

// checkCache returns a copy of a live cached response
func (s *Searcher) checkCache(key [32]byte) *SearchResponse {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, found := s.cache.Get(key)
	if !found {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil
	}
	return copySearchResponse(entry.response)
}

func (s *Searcher) storeInCache(key [32]byte, response *SearchResponse) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Add(key, &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cacheTTL),
	})
}

// InvalidateCache drops every cached response. Called when documents become
// ready or are deleted, since any query's results may change.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Citations = make([]types.Citation, len(src.Citations))
	copy(dst.Citations, src.Citations)
	return &dst
}

// computeQueryHash computes a stable key for a resolved query
func computeQueryHash(query string, q storage.HybridQuery) [32]byte {
	var data strings.Builder
	fmt.Fprintf(&data, "%s|%d|%.4f|%.4f", query, q.Limit, q.VectorWeight, q.TextWeight)
	if f := q.Filters; f != nil {
		tags := append([]string(nil), f.Tags...)
		sort.Strings(tags)
		fmt.Fprintf(&data, "|case:%s|client:%s|tags:%s", f.CaseID, f.ClientCode, strings.Join(tags, ","))
	}
	return sha256.Sum256([]byte(data.String()))
}
