package embedder

import (
	"context"
	"fmt"
)

// backend turns a batch of texts into raw vectors in request order
type backend interface {
	embed(ctx context.Context, texts []string) ([][]float32, error)
	close()
}

// client wraps a backend with caching, batching, normalization and dimension checks
type client struct {
	provider  string
	model     string
	dimension int
	batchSize int
	normalize bool
	retry     RetryConfig
	cache     *Cache
	backend   backend
}

func (c *client) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := c.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (c *client) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		hash := ComputeHash(text)
		if c.cache != nil {
			if emb, ok := c.cache.Get(cacheKey(c.model, hash)); ok {
				embeddings[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += c.batchSize {
		idx := missing[start:min(start+c.batchSize, len(missing))]
		texts := make([]string, len(idx))
		for j, i := range idx {
			texts[j] = req.Texts[i]
		}

		vectors, err := retryWithBackoff(ctx, c.retry, func() ([][]float32, error) {
			return c.backend.embed(ctx, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrUnexpectedResponse, len(vectors), len(texts))
		}

		for j, i := range idx {
			vec := vectors[j]
			if len(vec) != c.dimension {
				return nil, fmt.Errorf("%w: model %s returned %d, expected %d",
					ErrDimensionMismatch, c.model, len(vec), c.dimension)
			}
			if c.normalize {
				vec = NormalizeVector(vec)
			}
			emb := &Embedding{
				Vector:    vec,
				Dimension: len(vec),
				Provider:  c.provider,
				Model:     c.model,
				Hash:      ComputeHash(req.Texts[i]),
			}
			if c.cache != nil {
				c.cache.Set(cacheKey(c.model, emb.Hash), emb)
			}
			embeddings[i] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   c.provider,
		Model:      c.model,
		Dimension:  c.dimension,
	}, nil
}

func (c *client) Dimension() int {
	return c.dimension
}

func (c *client) Provider() string {
	return c.provider
}

func (c *client) Model() string {
	return c.model
}

func (c *client) Close() error {
	c.backend.close()
	return nil
}
