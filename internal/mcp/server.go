package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/searcher"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "docsync-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Searcher runs hybrid search
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// SyncReporter answers status and queue questions
type SyncReporter interface {
	SyncStatus(ctx context.Context) (*types.SyncStatusResponse, error)
	ListQueue(ctx context.Context, status string, limit, offset int) (*types.QueueListResponse, error)
}

// DocumentReader loads documents for inspection
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	GetExtraction(ctx context.Context, documentID string) (*storage.Extraction, error)
	ListChunks(ctx context.Context, documentID string) ([]*types.Chunk, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	searcher  Searcher
	sync      SyncReporter
	documents DocumentReader
	logger    *zap.Logger
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP server instance
func NewServer(search Searcher, sync SyncReporter, documents DocumentReader, opts ...Option) *Server {
	s := &Server{
		mcp:       server.NewMCPServer(ServerName, ServerVersion),
		searcher:  search,
		sync:      sync,
		documents: documents,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", zap.String("name", ServerName))
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(getSyncStatusTool(), s.handleGetSyncStatus)
	s.mcp.AddTool(listSyncQueueTool(), s.handleListSyncQueue)
	s.mcp.AddTool(getDocumentTool(), s.handleGetDocument)
}
