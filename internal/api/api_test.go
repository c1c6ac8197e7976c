package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/internal/blobstore"
	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/ingest"
	"github.com/lecpa/docsync/internal/searcher"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

const testKey = "secret"

type nopEnqueuer struct{ ids []string }

func (n *nopEnqueuer) Enqueue(_ context.Context, id string) error {
	n.ids = append(n.ids, id)
	return nil
}

type fakeSearcher struct {
	last searcher.SearchRequest
	resp *searcher.SearchResponse
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type testServer struct {
	router *gin.Engine
	store  *storage.SQLiteStorage
	search *fakeSearcher
	queue  *nopEnqueuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	q := &nopEnqueuer{}
	svc := ingest.NewService(config.Default(), store, q, blobs)
	fs := &fakeSearcher{resp: &searcher.SearchResponse{Query: "wages"}}
	h := NewHandler(svc, fs, store, WithAPIKey(testKey))
	return &testServer{router: h.Router(), store: store, search: fs, queue: q}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, testKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]map[string]string](t, w)
	return body["error"]["code"]
}

func (s *testServer) seedCase(t *testing.T) *types.Case {
	t.Helper()
	ctx := context.Background()
	client := &types.Client{ClientCode: "1001", Name: "Smith", ClientType: types.ClientIndividual, ApprovalStatus: types.ApprovalApproved}
	require.NoError(t, s.store.CreateClient(ctx, client))
	c := &types.Case{ClientID: client.ID, TaxYear: 2024}
	require.NoError(t, s.store.CreateCase(ctx, c))
	return c
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ingest/heartbeat", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/ingest/heartbeat", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[types.HeartbeatResponse](t, w).Status)
}

func TestSyncBoundary(t *testing.T) {
	s := newTestServer(t)
	year := 2024
	arrived := types.FileArrivedRequest{
		NASPath:  "/volume1/LeCPA/ClientFiles/1002_Doe/2024/W2.pdf",
		FileSize: 10,
		FileHash: "sha256:abc",
		ParsedInfo: types.ParsedPath{
			ClientCode:   "1002",
			ClientName:   "Doe",
			ClientType:   types.ClientIndividual,
			Year:         &year,
			RelativePath: "2024/W2.pdf",
			IsValid:      true,
		},
	}

	w := s.do(t, http.MethodPost, "/ingest/file-arrived", arrived)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[types.FileArrivedResponse](t, w)
	assert.Equal(t, types.SyncPendingApproval, resp.Status)
	require.NotEmpty(t, resp.QueueItemID)

	t.Run("missing path", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/ingest/file-arrived", types.FileArrivedRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("queue list", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/ingest/sync-queue?status=pending", nil)
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[types.QueueListResponse](t, w)
		assert.Equal(t, 1, list.Total)
		assert.Equal(t, 1, list.PendingCount)

		w = s.do(t, http.MethodGet, "/ingest/sync-queue?status=bogus", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = s.do(t, http.MethodGet, "/ingest/sync-queue?limit=x", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("review", func(t *testing.T) {
		path := fmt.Sprintf("/ingest/sync-queue/%s/approve", resp.QueueItemID)
		w := s.do(t, http.MethodPost, path, types.QueueActionRequest{Notes: "known"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		action := decode[types.QueueActionResponse](t, w)
		assert.Equal(t, "approved", action.Status)

		w = s.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "ALREADY_REVIEWED", errorCode(t, w))

		w = s.do(t, http.MethodPost, "/ingest/sync-queue/missing/reject", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("file deleted", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/ingest/file-deleted", types.FileDeletedRequest{NASPath: arrived.NASPath})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, types.SyncNotFound, decode[types.FileDeletedResponse](t, w).Status)
	})

	t.Run("relationship", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/ingest/relationship", types.RelationshipRequest{IndividualCode: "1002", BusinessCode: "2001"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, types.RelationshipSkipped, decode[types.RelationshipResponse](t, w).Status)

		w = s.do(t, http.MethodPost, "/ingest/relationship", types.RelationshipRequest{IndividualCode: "1002"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("sync status", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/ingest/sync-status", nil)
		require.Equal(t, http.StatusOK, w.Code)
		status := decode[types.SyncStatusResponse](t, w)
		assert.Equal(t, types.AgentDisconnected, status.AgentStatus)
		assert.NotNil(t, status.LastFileEvent)
		assert.Equal(t, 0, status.QueueStats.PendingApproval)
	})
}

func TestUploadAndInspect(t *testing.T) {
	s := newTestServer(t)
	c := s.seedCase(t)

	upload := func(content string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("case_id", c.ID))
		require.NoError(t, mw.WriteField("tags", "W2, payroll"))
		part, err := mw.CreateFormFile("file", "w2.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/documents/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set(APIKeyHeader, testKey)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	w := upload("%PDF-1.4 wages")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	doc := decode[DocumentView](t, w)
	assert.Equal(t, []string{"W2", "payroll"}, doc.Tags)
	assert.Equal(t, "pending", doc.Status)
	assert.Equal(t, []string{doc.ID}, s.queue.ids)

	w = upload("%PDF-1.4 wages")
	assert.Equal(t, http.StatusConflict, w.Code)
	dup := decode[map[string]any](t, w)
	assert.Equal(t, doc.ID, dup["existing_document_id"])

	ctx := context.Background()
	require.NoError(t, s.store.SaveExtraction(ctx, &storage.Extraction{
		DocumentID: doc.ID, DocumentType: "W2", Provider: "anthropic", Model: "m", Content: `{"wages":1000}`,
	}))
	embedding := make([]float32, 16)
	for i := range embedding {
		embedding[i] = float32(i) / 16
	}
	require.NoError(t, s.store.ReplaceChunks(ctx, doc.ID, []*types.Chunk{{
		DocumentID: doc.ID, ChunkIndex: 0, Content: "Wages 1000", PageStart: 1, PageEnd: 1,
		TokenCount: 2, Embedding: embedding, EmbeddingModel: "local-hash-v1",
	}}))

	t.Run("get document", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/documents/"+doc.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		view := decode[DocumentView](t, w)
		require.NotNil(t, view.Extraction)
		assert.Equal(t, "W2", view.Extraction.DocumentType)
		assert.JSONEq(t, `{"wages":1000}`, string(view.Extraction.Result))

		w = s.do(t, http.MethodGet, "/documents/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("chunks", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/admin/documents/"+doc.ID+"/chunks", nil)
		require.Equal(t, http.StatusOK, w.Code)
		chunks := decode[[]ChunkView](t, w)
		require.Len(t, chunks, 1)
		assert.True(t, chunks[0].HasEmbedding)
		assert.Len(t, chunks[0].EmbeddingPreview, embeddingPreviewLen)

		w = s.do(t, http.MethodGet, "/admin/documents/missing/chunks", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("reindex", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/admin/reindex", ReindexRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = s.do(t, http.MethodPost, "/admin/reindex", ReindexRequest{DocumentIDs: []string{doc.ID, "missing"}})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[ReindexResponse](t, w)
		assert.Equal(t, 1, resp.QueuedCount)
		assert.Equal(t, []string{"missing"}, resp.NotFound)
	})

	t.Run("missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/documents/upload", nil)
		req.Header.Set(APIKeyHeader, testKey)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSearch(t *testing.T) {
	s := newTestServer(t)
	s.search.resp = &searcher.SearchResponse{
		Query:        "wages",
		TotalResults: 1,
		Citations:    []types.Citation{{DocumentID: "d1", ChunkID: 1, PageStart: 1, PageEnd: 1, Rank: 1, RelevanceScore: 0.8}},
	}

	zero := 0.0
	w := s.do(t, http.MethodPost, "/search", SearchRequest{
		Query: "wages", ClientCode: "1001", DocTypes: []string{"W2"}, TopK: 5, FTSWeight: &zero,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[SearchResponse](t, w)
	assert.Equal(t, 1, resp.TotalResults)
	require.Len(t, resp.Citations, 1)

	last := s.search.last
	assert.Equal(t, 5, last.TopK)
	require.NotNil(t, last.Filters)
	assert.Equal(t, "1001", last.Filters.ClientCode)
	assert.Equal(t, []string{"W2"}, last.Filters.Tags)
	require.NotNil(t, last.TextWeight)
	assert.Zero(t, *last.TextWeight)
	assert.Nil(t, last.VectorWeight)

	s.search.err = fmt.Errorf("%w: top_k must be between 1 and 50", searcher.ErrInvalidRequest)
	w = s.do(t, http.MethodPost, "/search", SearchRequest{Query: "wages", TopK: 99})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
}
