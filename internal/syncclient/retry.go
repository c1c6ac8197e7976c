package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Retry defaults
const (
	MaxRetries        = 3
	InitialBackoffMs  = 500
	MaxBackoffMs      = 10000
	BackoffMultiplier = 2.0
)

// ErrUnexpectedResponse is returned when a 2xx body cannot be decoded
var ErrUnexpectedResponse = errors.New("unexpected response from ingestion boundary")

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // Maximum number of attempts
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns the defaults for boundary calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// StatusError is a non-2xx response from the boundary
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// newStatusError pulls the message out of an {"error":{"message"}} body
// when the server sent one
func newStatusError(code int, body []byte) *StatusError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &envelope) == nil {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = string(body[:min(len(body), maxErrorBody)])
	}
	return &StatusError{Code: code, Message: msg}
}

// retryable reports whether another attempt could succeed. Only transport
// failures (connection errors, timeouts) are retried; any HTTP response,
// including a 5xx, is final.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return false
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
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*config.Multiplier), config.MaxDelay)
			}
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
