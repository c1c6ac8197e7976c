package embedder

import (
	"fmt"
	"os"
	"strings"

	"github.com/lecpa/docsync/internal/config"
)

// Environment fallbacks for hosted API keys
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// Option customizes an embedder built by New
type Option func(*client)

// WithRetry overrides the retry policy
func WithRetry(rc RetryConfig) Option {
	return func(c *client) { c.retry = rc }
}

// New creates an embedder from configuration
func New(cfg config.EmbeddingConfig, opts ...Option) (Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidInput)
	}

	c := &client{
		provider:  strings.ToLower(cfg.Provider),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		normalize: cfg.Normalize,
		retry:     DefaultRetryConfig(),
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if cfg.CacheSize > 0 {
		c.cache = NewCache(cfg.CacheSize)
	}

	switch c.provider {
	case ProviderTEI:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: tei requires base_url", ErrNoProviderEnabled)
		}
		c.backend = newTEIBackend(cfg.BaseURL, cfg.Normalize)
	case ProviderOpenAI:
		key := firstNonEmpty(cfg.APIKey, os.Getenv(EnvOpenAIAPIKey))
		if key == "" {
			return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
		}
		c.backend = newOpenAIStyleBackend(firstNonEmpty(cfg.BaseURL, DefaultOpenAIURL), key, cfg.Model)
	case ProviderJina:
		key := firstNonEmpty(cfg.APIKey, os.Getenv(EnvJinaAPIKey))
		if key == "" {
			return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
		}
		c.backend = newOpenAIStyleBackend(firstNonEmpty(cfg.BaseURL, DefaultJinaURL), key, cfg.Model)
	case ProviderLocal:
		c.model = LocalModel
		c.normalize = true
		c.backend = &hashingBackend{dimension: cfg.Dimension}
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if c.model == "" {
		return nil, fmt.Errorf("%w: model is required for %s", ErrUnsupportedModel, c.provider)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewLocal creates the offline hashing embedder; dimension <= 0 selects LocalDimension
func NewLocal(dimension int) Embedder {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &client{
		provider:  ProviderLocal,
		model:     LocalModel,
		dimension: dimension,
		batchSize: DefaultBatchSize,
		normalize: true,
		retry:     DefaultRetryConfig(),
		cache:     NewCache(1000),
		backend:   &hashingBackend{dimension: dimension},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
