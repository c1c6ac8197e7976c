package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/internal/ingest"
	"github.com/lecpa/docsync/internal/searcher"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

type fakeSearcher struct {
	last searcher.SearchRequest
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &searcher.SearchResponse{
		Query: req.Query,
		Citations: []types.Citation{{
			DocumentID: "doc-1", DocumentFilename: "W-2.pdf", ChunkID: 7,
			PageStart: 1, PageEnd: 1, Snippet: "Wages, tips", RelevanceScore: 0.9, Rank: 1,
		}},
		TotalResults: 1,
		Duration:     12 * time.Millisecond,
	}, nil
}

type fakeSync struct{}

func (fakeSync) SyncStatus(context.Context) (*types.SyncStatusResponse, error) {
	return &types.SyncStatusResponse{
		AgentStatus: types.AgentHealthy,
		QueueStats:  types.QueueStats{PendingApproval: 2},
	}, nil
}

func (fakeSync) ListQueue(_ context.Context, status string, limit, offset int) (*types.QueueListResponse, error) {
	if status == "bogus" {
		return nil, fmt.Errorf("%w: unknown status %q", ingest.ErrInvalidRequest, status)
	}
	return &types.QueueListResponse{
		Items:        []types.QueueItemView{{ID: "q1", ItemType: "client", NASPath: "/nas/1001_Smith", Status: "pending"}},
		Total:        1,
		PendingCount: 1,
	}, nil
}

type fakeDocuments struct {
	extraction bool
}

func (f fakeDocuments) GetDocument(_ context.Context, id string) (*types.Document, error) {
	if id != "doc-1" {
		return nil, storage.ErrNotFound
	}
	pages := 2
	return &types.Document{
		ID: "doc-1", CaseID: "case-1", Filename: "W-2.pdf", MimeType: "application/pdf",
		PageCount: &pages, Status: types.StatusReady, Tags: []string{"W2"},
	}, nil
}

func (f fakeDocuments) GetExtraction(_ context.Context, id string) (*storage.Extraction, error) {
	if !f.extraction {
		return nil, storage.ErrNotFound
	}
	return &storage.Extraction{DocumentID: id, DocumentType: "W2", Model: "m", Content: `{"wages":"85000.00"}`}, nil
}

func (f fakeDocuments) ListChunks(context.Context, string) ([]*types.Chunk, error) {
	return []*types.Chunk{
		{ChunkIndex: 0, PageStart: 1, PageEnd: 1, Content: "page one"},
		{ChunkIndex: 1, PageStart: 2, PageEnd: 2, Content: "page two"},
	}, nil
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	var text string
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		text = c.Text
	case *mcp.TextContent:
		text = c.Text
	default:
		t.Fatalf("unexpected content %T", c)
	}
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	return mcpErr.Code
}

func TestSearchDocuments(t *testing.T) {
	search := &fakeSearcher{}
	s := NewServer(search, fakeSync{}, fakeDocuments{})

	res, err := s.handleSearchDocuments(context.Background(), call(map[string]interface{}{
		"query":       "  wages 2024 ",
		"client_code": "1001",
		"doc_types":   []interface{}{"W2", 3, ""},
		"top_k":       float64(5),
	}))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "wages 2024", out["query"])
	assert.Equal(t, float64(1), out["total_results"])
	assert.Equal(t, float64(12), out["duration_ms"])
	citations := out["citations"].([]interface{})
	require.Len(t, citations, 1)
	assert.Equal(t, "doc-1", citations[0].(map[string]interface{})["document_id"])

	assert.Equal(t, 5, search.last.TopK)
	assert.False(t, search.last.UseCache)
	require.NotNil(t, search.last.Filters)
	assert.Equal(t, "1001", search.last.Filters.ClientCode)
	assert.Equal(t, []string{"W2"}, search.last.Filters.Tags)
}

func TestSearchDocuments_Validation(t *testing.T) {
	tests := []struct {
		name string
		args interface{}
		err  error
		code int
	}{
		{"arguments not an object", "nope", nil, ErrorCodeInvalidParams},
		{"missing query", map[string]interface{}{}, nil, ErrorCodeEmptyQuery},
		{"blank query", map[string]interface{}{"query": "   "}, nil, ErrorCodeEmptyQuery},
		{"top_k too large", map[string]interface{}{"query": "q", "top_k": float64(51)}, nil, ErrorCodeInvalidParams},
		{"top_k zero", map[string]interface{}{"query": "q", "top_k": float64(0)}, nil, ErrorCodeInvalidParams},
		{"searcher rejects", map[string]interface{}{"query": "q"}, searcher.ErrInvalidRequest, ErrorCodeInvalidParams},
		{"searcher fails", map[string]interface{}{"query": "q"}, errors.New("embedder down"), ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&fakeSearcher{err: tt.err}, fakeSync{}, fakeDocuments{})
			var req mcp.CallToolRequest
			req.Params.Arguments = tt.args
			_, err := s.handleSearchDocuments(context.Background(), req)
			assert.Equal(t, tt.code, mcpCode(t, err))
		})
	}
}

func TestSearchDocuments_NoFilters(t *testing.T) {
	search := &fakeSearcher{}
	s := NewServer(search, fakeSync{}, fakeDocuments{})
	_, err := s.handleSearchDocuments(context.Background(), call(map[string]interface{}{"query": "k-1"}))
	require.NoError(t, err)
	assert.Nil(t, search.last.Filters)
	assert.Equal(t, defaultTopK, search.last.TopK)
}

func TestGetSyncStatus(t *testing.T) {
	s := NewServer(&fakeSearcher{}, fakeSync{}, fakeDocuments{})
	res, err := s.handleGetSyncStatus(context.Background(), call(nil))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "healthy", out["agent_status"])
	assert.Equal(t, float64(2), out["queue_stats"].(map[string]interface{})["pending_approval"])
}

func TestListSyncQueue(t *testing.T) {
	s := NewServer(&fakeSearcher{}, fakeSync{}, fakeDocuments{})

	res, err := s.handleListSyncQueue(context.Background(), call(map[string]interface{}{"status": "pending"}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, float64(1), out["pending_count"])
	assert.Len(t, out["items"], 1)

	_, err = s.handleListSyncQueue(context.Background(), call(map[string]interface{}{"status": "bogus"}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestGetDocument(t *testing.T) {
	t.Run("with extraction and chunks", func(t *testing.T) {
		s := NewServer(&fakeSearcher{}, fakeSync{}, fakeDocuments{extraction: true})
		res, err := s.handleGetDocument(context.Background(), call(map[string]interface{}{
			"document_id":    "doc-1",
			"include_chunks": true,
		}))
		require.NoError(t, err)

		out := resultJSON(t, res)
		doc := out["document"].(map[string]interface{})
		assert.Equal(t, "W-2.pdf", doc["filename"])
		assert.Equal(t, "ready", doc["processing_status"])
		assert.Equal(t, float64(2), doc["page_count"])

		ext := out["extraction"].(map[string]interface{})
		assert.Equal(t, "W2", ext["document_type"])
		assert.Equal(t, "85000.00", ext["fields"].(map[string]interface{})["wages"])
		assert.Len(t, out["chunks"], 2)
	})

	t.Run("without extraction", func(t *testing.T) {
		s := NewServer(&fakeSearcher{}, fakeSync{}, fakeDocuments{})
		res, err := s.handleGetDocument(context.Background(), call(map[string]interface{}{"document_id": "doc-1"}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.NotContains(t, out, "extraction")
		assert.NotContains(t, out, "chunks")
	})

	t.Run("not found", func(t *testing.T) {
		s := NewServer(&fakeSearcher{}, fakeSync{}, fakeDocuments{})
		_, err := s.handleGetDocument(context.Background(), call(map[string]interface{}{"document_id": "nope"}))
		assert.Equal(t, ErrorCodeDocumentNotFound, mcpCode(t, err))
	})

	t.Run("missing id", func(t *testing.T) {
		s := NewServer(&fakeSearcher{}, fakeSync{}, fakeDocuments{})
		_, err := s.handleGetDocument(context.Background(), call(map[string]interface{}{}))
		assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
	})
}
