package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/internal/config"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// teiServer answers /embed with vectors of the given dimension whose first
// element is the input length
func teiServer(t *testing.T, dim int, calls *atomic.Int32, batchSizes *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embed", r.URL.Path)
		var req struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if batchSizes != nil {
			*batchSizes = append(*batchSizes, len(req.Inputs))
		}
		out := make([][]float32, len(req.Inputs))
		for i, in := range req.Inputs {
			v := make([]float32, dim)
			v[0] = float32(len(in))
			out[i] = v
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func TestTEIProvider(t *testing.T) {
	var calls atomic.Int32
	var sizes []int
	srv := teiServer(t, 4, &calls, &sizes)
	defer srv.Close()

	emb, err := New(config.EmbeddingConfig{
		Provider: "tei", Model: "BAAI/bge-small-en-v1.5", BaseURL: srv.URL,
		Dimension: 4, BatchSize: 2, CacheSize: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", emb.Model())

	resp, err := emb.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "bb", "ccc"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0])
	assert.Equal(t, float32(3), resp.Embeddings[2].Vector[0], "order preserved across batches")
	assert.Equal(t, []int{2, 1}, sizes)

	_, err = emb.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "bb", "dddd"}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "only the uncached text is sent")
	assert.Equal(t, []int{2, 1, 1}, sizes)
}

func TestTEIProvider_DimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := teiServer(t, 8, &calls, nil)
	defer srv.Close()

	emb, err := New(config.EmbeddingConfig{Provider: "tei", Model: "m", BaseURL: srv.URL, Dimension: 4})
	require.NoError(t, err)

	_, err = emb.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOpenAIProvider_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	emb, err := New(config.EmbeddingConfig{
		Provider: "openai", Model: "text-embedding-3-small", BaseURL: srv.URL, APIKey: "sk-test", Dimension: 2,
	})
	require.NoError(t, err)

	resp, err := emb.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"first", "second"}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, resp.Embeddings[0].Vector)
	assert.Equal(t, []float32{0, 1}, resp.Embeddings[1].Vector)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, resp.Vectors())
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[[1,0]]`))
	}))
	defer srv.Close()

	emb, err := New(config.EmbeddingConfig{Provider: "tei", Model: "m", BaseURL: srv.URL, Dimension: 2},
		WithRetry(fastRetry()))
	require.NoError(t, err)

	_, err = emb.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetry_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	emb, err := New(config.EmbeddingConfig{Provider: "tei", Model: "m", BaseURL: srv.URL, Dimension: 2},
		WithRetry(fastRetry()))
	require.NoError(t, err)

	_, err = emb.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("exhausts attempts", func(t *testing.T) {
		attempts := 0
		_, err := retryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
			attempts++
			return 0, errors.New("connection reset")
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		_, err := retryWithBackoff(ctx, fastRetry(), func() (int, error) {
			attempts++
			cancel()
			return 0, errors.New("timeout")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})

	t.Run("rate limit is retryable", func(t *testing.T) {
		assert.True(t, retryable(&statusError{code: http.StatusTooManyRequests}))
		assert.True(t, retryable(&statusError{code: http.StatusBadGateway}))
		assert.False(t, retryable(&statusError{code: http.StatusUnauthorized}))
	})

	t.Run("retry after stretches delay", func(t *testing.T) {
		limited := &statusError{code: http.StatusTooManyRequests, retryAfter: 2 * time.Second}
		assert.Equal(t, 2*time.Second, nextDelay(100*time.Millisecond, 5*time.Second, limited))
		assert.Equal(t, time.Second, nextDelay(100*time.Millisecond, time.Second, limited))
		assert.Equal(t, 100*time.Millisecond, nextDelay(100*time.Millisecond, time.Second, errors.New("reset")))
	})
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, parseRetryAfter(h))
	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, parseRetryAfter(h))
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Zero(t, parseRetryAfter(h))
}

func TestNew_Errors(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvJinaAPIKey, "")

	tests := []struct {
		name string
		cfg  config.EmbeddingConfig
		want error
	}{
		{"unknown provider", config.EmbeddingConfig{Provider: "nope", Model: "m", Dimension: 4}, ErrUnsupportedModel},
		{"tei without url", config.EmbeddingConfig{Provider: "tei", Model: "m", Dimension: 4}, ErrNoProviderEnabled},
		{"openai without key", config.EmbeddingConfig{Provider: "openai", Model: "m", Dimension: 4}, ErrNoProviderEnabled},
		{"jina without key", config.EmbeddingConfig{Provider: "jina", Model: "m", Dimension: 4}, ErrNoProviderEnabled},
		{"zero dimension", config.EmbeddingConfig{Provider: "local", Dimension: 0}, ErrInvalidInput},
		{"missing model", config.EmbeddingConfig{Provider: "tei", BaseURL: "http://x", Dimension: 4}, ErrUnsupportedModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_JinaKeyFromEnv(t *testing.T) {
	t.Setenv(EnvJinaAPIKey, "jina-key")
	emb, err := New(config.EmbeddingConfig{Provider: "jina", Model: "jina-embeddings-v3", Dimension: 1024})
	require.NoError(t, err)
	assert.Equal(t, ProviderJina, emb.Provider())
}
