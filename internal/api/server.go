// Package api exposes the ingestion boundary, document administration and
// hybrid search over HTTP using gin.
//
// Routes:
//
//	GET  /health                          liveness, unauthenticated
//	GET  /metrics                         prometheus scrape, unauthenticated
//	POST /ingest/file-arrived             agent: new or modified file
//	POST /ingest/file-deleted             agent: removed file
//	POST /ingest/heartbeat                agent: liveness
//	POST /ingest/relationship             agent: shortcut-derived ownership link
//	GET  /ingest/sync-status              agent health and today's counts
//	GET  /ingest/sync-queue               approval queue, ?status=&limit=&offset=
//	POST /ingest/sync-queue/:id/approve   one-way review
//	POST /ingest/sync-queue/:id/reject    one-way review
//	POST /documents/upload                multipart direct upload
//	GET  /documents/:id                   document and stored field extraction
//	GET  /admin/documents/:id/chunks      chunk inspection
//	POST /admin/reindex                   reset and re-queue documents
//	POST /search                          hybrid search
//
// Every route except /health and /metrics requires the configured API key
// in the X-API-Key header when one is set.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/ingest"
	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/internal/searcher"
	"github.com/lecpa/docsync/internal/storage"
)

const (
	// APIKeyHeader carries the shared secret
	APIKeyHeader = "X-API-Key"
	// ReviewerHeader names the person approving or rejecting queue items
	ReviewerHeader = "X-Reviewer"

	defaultReviewer      = "api"
	defaultMaxUploadSize = 100 << 20
)

// Searcher runs hybrid search
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// Handler serves the HTTP API
type Handler struct {
	ingest    *ingest.Service
	search    Searcher
	store     storage.Storage
	logger    *zap.Logger
	metrics   *metrics.Recorder
	apiKey    string
	maxUpload int64
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the request logger
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(rec *metrics.Recorder) Option {
	return func(h *Handler) { h.metrics = rec }
}

// WithAPIKey requires the key on every authenticated route
func WithAPIKey(key string) Option {
	return func(h *Handler) { h.apiKey = key }
}

// WithMaxUploadSize bounds multipart uploads
func WithMaxUploadSize(n int64) Option {
	return func(h *Handler) { h.maxUpload = n }
}

// NewHandler creates a Handler
func NewHandler(svc *ingest.Service, search Searcher, store storage.Storage, opts ...Option) *Handler {
	h := &Handler{
		ingest:    svc,
		search:    search,
		store:     store,
		logger:    zap.NewNop(),
		maxUpload: defaultMaxUploadSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gin engine with all routes registered
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.observe())
	r.MaxMultipartMemory = 32 << 20

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", h.requireAPIKey())

	boundary := authed.Group("/ingest")
	{
		boundary.POST("/file-arrived", h.FileArrived)
		boundary.POST("/file-deleted", h.FileDeleted)
		boundary.POST("/heartbeat", h.Heartbeat)
		boundary.POST("/relationship", h.Relationship)
		boundary.GET("/sync-status", h.SyncStatus)
		boundary.GET("/sync-queue", h.ListQueue)
		boundary.POST("/sync-queue/:id/approve", h.Approve)
		boundary.POST("/sync-queue/:id/reject", h.Reject)
	}

	docs := authed.Group("/documents")
	{
		docs.POST("/upload", h.Upload)
		docs.GET("/:id", h.GetDocument)
	}

	admin := authed.Group("/admin")
	{
		admin.GET("/documents/:id/chunks", h.ListChunks)
		admin.POST("/reindex", h.Reindex)
	}

	authed.POST("/search", h.Search)
	return r
}

func (h *Handler) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.apiKey == "" {
			c.Next()
			return
		}
		got := c.GetHeader(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "missing or invalid API key"))
			return
		}
		c.Next()
	}
}

// observe logs each request and records its latency by route
func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)
		h.metrics.RecordSyncRequest(route, strconv.Itoa(status), duration)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", duration),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			h.logger.Error("request failed", fields...)
		case route == "/health" || route == "/metrics":
			h.logger.Debug("request", fields...)
		default:
			h.logger.Info("request", fields...)
		}
	}
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// fail maps domain errors onto HTTP statuses
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("NOT_FOUND", err.Error()))
	case errors.Is(err, storage.ErrAlreadyReviewed):
		c.JSON(http.StatusBadRequest, errorBody("ALREADY_REVIEWED", err.Error()))
	case errors.Is(err, ingest.ErrInvalidRequest), errors.Is(err, searcher.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", err.Error()))
	case errors.Is(err, ingest.ErrDuplicate):
		c.JSON(http.StatusConflict, errorBody("DUPLICATE", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL", err.Error()))
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", message))
}
