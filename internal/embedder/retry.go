package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Retry defaults
const (
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // Maximum number of attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns the defaults for API retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// statusError is a non-200 response from an embedding API. retryAfter is
// the server's requested wait on 429/503, zero when absent.
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

// parseRetryAfter reads a Retry-After header given in seconds. HTTP-date
// values are ignored; TEI and OpenAI send seconds.
func parseRetryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// nextDelay is the wait before the next attempt: the backoff, stretched to
// the server's Retry-After when it asks for longer, never above max
func nextDelay(backoff, maxDelay time.Duration, err error) time.Duration {
	delay := backoff
	var se *statusError
	if errors.As(err, &se) && se.retryAfter > delay {
		delay = se.retryAfter
	}
	return min(delay, maxDelay)
}

func (e *statusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.code, e.body)
}

// retryable reports whether another attempt could succeed.
// Client errors other than rate limiting are permanent.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, ErrUnexpectedResponse)
}

// retryWithBackoff executes fn with exponential backoff between attempts.
// Retry stops on context cancellation or a permanent error.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay
	attempts := max(config.MaxRetries, 1)

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(nextDelay(backoff, config.MaxDelay, err)):
				backoff = min(time.Duration(float64(backoff)*config.Multiplier), config.MaxDelay)
			}
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
