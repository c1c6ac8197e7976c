package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lecpa/docsync/internal/ingest"
	"github.com/lecpa/docsync/internal/searcher"
	"github.com/lecpa/docsync/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeDocumentNotFound = -32005 // No document with that id
)

const (
	defaultTopK = 10
	maxTopK     = 50
)

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", defaultTopK)
	if topK < 1 || topK > maxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 50", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	// uncached: deletions and re-indexing happen in the server process, whose
	// invalidations never reach this one
	req := searcher.SearchRequest{Query: query, TopK: topK}
	filters := &storage.SearchFilters{
		ClientCode: getStringDefault(args, "client_code", ""),
		CaseID:     getStringDefault(args, "case_id", ""),
		Tags:       getStringSlice(args, "doc_types"),
	}
	if filters.ClientCode != "" || filters.CaseID != "" || len(filters.Tags) > 0 {
		req.Filters = filters
	}

	resp, err := s.searcher.Search(ctx, req)
	if errors.Is(err, searcher.ErrInvalidRequest) {
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"query":         resp.Query,
		"total_results": resp.TotalResults,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
		"citations":     resp.Citations,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetSyncStatus handles the get_sync_status tool invocation
func (s *Server) handleGetSyncStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.sync.SyncStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get sync status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// handleListSyncQueue handles the list_sync_queue tool invocation
func (s *Server) handleListSyncQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	resp, err := s.sync.ListQueue(ctx,
		getStringDefault(args, "status", ""),
		getIntDefault(args, "limit", 0),
		getIntDefault(args, "offset", 0))
	if errors.Is(err, ingest.ErrInvalidRequest) {
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list sync queue", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleGetDocument handles the get_document tool invocation
func (s *Server) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id := getStringDefault(args, "document_id", "")
	if id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "document_id parameter is required", map[string]interface{}{
			"param":  "document_id",
			"reason": "missing or empty",
		})
	}

	doc, err := s.documents.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeDocumentNotFound, "document not found", map[string]interface{}{
			"document_id": id,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get document", map[string]interface{}{
			"error": err.Error(),
		})
	}

	document := map[string]interface{}{
		"id":                doc.ID,
		"case_id":           doc.CaseID,
		"filename":          doc.Filename,
		"mime_type":         doc.MimeType,
		"file_size":         doc.FileSize,
		"processing_status": doc.Status,
		"is_ocr":            doc.IsOCR,
		"tags":              doc.Tags,
		"is_permanent":      doc.IsPermanent,
		"created_at":        doc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if doc.PageCount != nil {
		document["page_count"] = *doc.PageCount
	}
	if doc.ProcessingError != "" {
		document["processing_error"] = doc.ProcessingError
	}
	if doc.SourcePath != "" {
		document["source_path"] = doc.SourcePath
	}
	if doc.DeletedAt != nil {
		document["deleted_at"] = doc.DeletedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	response := map[string]interface{}{"document": document}

	ext, err := s.documents.GetExtraction(ctx, doc.ID)
	switch {
	case err == nil:
		response["extraction"] = map[string]interface{}{
			"document_type": ext.DocumentType,
			"model":         ext.Model,
			"fields":        json.RawMessage(ext.Content),
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, newMCPError(ErrorCodeInternalError, "failed to get extraction", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if getBoolDefault(args, "include_chunks", false) {
		chunks, err := s.documents.ListChunks(ctx, doc.ID)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to list chunks", map[string]interface{}{
				"error": err.Error(),
			})
		}
		out := make([]map[string]interface{}, len(chunks))
		for i, ch := range chunks {
			out[i] = map[string]interface{}{
				"chunk_index": ch.ChunkIndex,
				"page_start":  ch.PageStart,
				"page_end":    ch.PageEnd,
				"content":     ch.Content,
			}
		}
		response["chunks"] = out
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter, ignoring non-string items
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
