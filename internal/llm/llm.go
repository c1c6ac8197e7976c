// Package llm routes language-model calls to configured providers.
//
// Every call names a task ("extraction", ...). The routing table maps the task
// to a provider, model and generation settings; unknown tasks use the default
// provider and model with 4096 max tokens and temperature 0.3.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/config"
)

// Errors
var (
	ErrUnknownProvider       = errors.New("unknown llm provider")
	ErrProviderNotConfigured = errors.New("llm provider not configured")
	ErrEmptyResponse         = errors.New("llm returned no text")
)

// Provider names
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"

	defaultMaxTokens   = 4096
	defaultTemperature = 0.3
)

// Message is one conversation turn; Role is "user" or "assistant"
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral generation request
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int      // 0 uses the route setting
	Temperature *float64 // nil uses the route setting
}

// Call is a request resolved against a route
type Call struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the generated text with accounting
type Response struct {
	Text         string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider generates text with one backend
type Provider interface {
	Name() string
	Generate(ctx context.Context, call Call) (*Response, error)
}

// Route is the resolved target for a task
type Route struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Router resolves tasks to providers and retries failed calls
type Router struct {
	cfg       config.LLMConfig
	providers map[string]Provider
	logger    *zap.Logger

	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRouter creates a router over the given providers
func NewRouter(cfg config.LLMConfig, logger *zap.Logger, providers ...Provider) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		cfg:       cfg,
		providers: make(map[string]Provider, len(providers)),
		logger:    logger,
		attempts:  3,
		baseDelay: time.Second,
		maxDelay:  10 * time.Second,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// NewRouterFromConfig builds providers whose API key environment variable is set
func NewRouterFromConfig(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*Router, error) {
	var providers []Provider
	for name, pc := range cfg.Providers {
		key := os.Getenv(pc.APIKeyEnv)
		if key == "" {
			continue
		}
		timeout := time.Duration(pc.TimeoutSeconds) * time.Second
		switch name {
		case ProviderAnthropic:
			providers = append(providers, NewAnthropic(key, pc.BaseURL, timeout))
		case ProviderGemini:
			g, err := NewGemini(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to create gemini client: %w", err)
			}
			providers = append(providers, g)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
	}
	r := NewRouter(cfg, logger, providers...)
	if pc, ok := cfg.Providers[cfg.DefaultProvider]; ok && pc.MaxRetries > 0 {
		r.attempts = pc.MaxRetries
	}
	return r, nil
}

// Route resolves the provider, model and settings for task
func (r *Router) Route(task string) Route {
	if route, ok := r.cfg.Routes[task]; ok {
		out := Route{
			Provider:    route.Provider,
			Model:       route.Model,
			MaxTokens:   route.MaxTokens,
			Temperature: route.Temperature,
		}
		if out.MaxTokens <= 0 {
			out.MaxTokens = defaultMaxTokens
		}
		return out
	}
	return Route{
		Provider:    r.cfg.DefaultProvider,
		Model:       r.cfg.DefaultModel,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	}
}

// Available reports whether the provider for task is configured
func (r *Router) Available(task string) bool {
	_, ok := r.providers[r.Route(task).Provider]
	return ok
}

// Generate runs req against the route for task
func (r *Router) Generate(ctx context.Context, task string, req Request) (*Response, error) {
	route := r.Route(task)
	provider, ok := r.providers[route.Provider]
	if !ok {
		if _, known := r.cfg.Providers[route.Provider]; known {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, route.Provider)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, route.Provider)
	}

	call := Call{
		Model:       route.Model,
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   route.MaxTokens,
		Temperature: route.Temperature,
	}
	if req.MaxTokens > 0 {
		call.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		call.Temperature = *req.Temperature
	}

	r.logger.Info("generating llm response",
		zap.String("task", task),
		zap.String("provider", route.Provider),
		zap.String("model", route.Model))

	var lastErr error
	delay := r.baseDelay
	for attempt := 0; attempt < r.attempts; attempt++ {
		resp, err := provider.Generate(ctx, call)
		if err == nil {
			r.logger.Debug("llm response",
				zap.String("task", task),
				zap.Int("input_tokens", resp.InputTokens),
				zap.Int("output_tokens", resp.OutputTokens))
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("llm call failed",
			zap.String("task", task),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < r.attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, r.maxDelay)
		}
	}
	return nil, fmt.Errorf("failed to generate after %d attempts: %w", r.attempts, lastErr)
}

// Close releases providers that hold connections
func (r *Router) Close() error {
	var errs []error
	for _, p := range r.providers {
		if c, ok := p.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
