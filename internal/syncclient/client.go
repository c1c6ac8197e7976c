// Package syncclient delivers agent events to the ingestion boundary.
//
// Every call is paced by a token bucket and retried with exponential backoff
// on transport failures and timeouts only. Any HTTP error response is
// returned immediately. Event methods never return Go errors: when delivery
// fails the caller receives a response with status "error" and a message, so
// the watcher and scanner can count the failure and move on.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/pkg/types"
)

// Endpoint paths on the ingestion boundary
const (
	PathFileArrived  = "/ingest/file-arrived"
	PathFileDeleted  = "/ingest/file-deleted"
	PathHeartbeat    = "/ingest/heartbeat"
	PathRelationship = "/ingest/relationship"
	PathSyncStatus   = "/ingest/sync-status"

	apiKeyHeader = "X-API-Key"
	maxErrorBody = 4096
)

// Client is the agent side of the sync boundary
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Client) { c.metrics = rec }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry replaces the retry policy
func WithRetry(rc RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// New creates a Client for the boundary described by cfg
func New(cfg config.APIConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	retry := DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retry.MaxRetries = cfg.RetryAttempts
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		retry:   retry,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FileArrived announces a new or modified file
func (c *Client) FileArrived(ctx context.Context, req types.FileArrivedRequest) types.FileArrivedResponse {
	var resp types.FileArrivedResponse
	if err := c.call(ctx, http.MethodPost, PathFileArrived, req, &resp); err != nil {
		c.logger.Error("file-arrived failed", zap.String("path", req.NASPath), zap.Error(err))
		return types.FileArrivedResponse{Status: types.SyncError, Message: err.Error()}
	}
	return resp
}

// FileDeleted announces a removed file
func (c *Client) FileDeleted(ctx context.Context, nasPath string) types.FileDeletedResponse {
	var resp types.FileDeletedResponse
	if err := c.call(ctx, http.MethodPost, PathFileDeleted, types.FileDeletedRequest{NASPath: nasPath}, &resp); err != nil {
		c.logger.Error("file-deleted failed", zap.String("path", nasPath), zap.Error(err))
		return types.FileDeletedResponse{Status: types.SyncError, Message: err.Error()}
	}
	return resp
}

// Relationship reports an ownership link found in a shortcut
func (c *Client) Relationship(ctx context.Context, req types.RelationshipRequest) types.RelationshipResponse {
	var resp types.RelationshipResponse
	if err := c.call(ctx, http.MethodPost, PathRelationship, req, &resp); err != nil {
		c.logger.Error("relationship failed",
			zap.String("individual", req.IndividualCode),
			zap.String("business", req.BusinessCode),
			zap.Error(err))
		return types.RelationshipResponse{Status: types.SyncError, Message: err.Error()}
	}
	return resp
}

// Heartbeat reports agent liveness
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, PathHeartbeat, nil, nil)
}

// SyncStatus fetches agent health and today's counts
func (c *Client) SyncStatus(ctx context.Context) (*types.SyncStatusResponse, error) {
	var resp types.SyncStatusResponse
	if err := c.call(ctx, http.MethodGet, PathSyncStatus, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close releases idle connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// call sends one request with pacing and retry, decoding a 2xx body into out
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	start := time.Now()
	body, err := retryWithBackoff(ctx, c.retry, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.send(ctx, method, path, payload)
	})
	c.metrics.RecordSyncRequest(path, outcome(err), time.Since(start))
	if err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, body)
	}
	return body, nil
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return fmt.Sprintf("http_%d", se.Code)
	default:
		return "transport_error"
	}
}
