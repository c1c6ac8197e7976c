package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lecpa/docsync/internal/ingest"
	"github.com/lecpa/docsync/internal/searcher"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

const embeddingPreviewLen = 10

// DocumentView is a document as returned by the API
type DocumentView struct {
	ID               string          `json:"id"`
	CaseID           string          `json:"case_id"`
	Filename         string          `json:"filename"`
	OriginalFilename string          `json:"original_filename"`
	StorageKey       string          `json:"storage_key"`
	MimeType         string          `json:"mime_type"`
	FileSize         int64           `json:"file_size"`
	PageCount        *int            `json:"page_count,omitempty"`
	Status           string          `json:"processing_status"`
	ProcessingError  string          `json:"processing_error,omitempty"`
	IsOCR            bool            `json:"is_ocr"`
	EmbeddingModel   string          `json:"embedding_model,omitempty"`
	Tags             []string        `json:"tags"`
	IsPermanent      bool            `json:"is_permanent"`
	FolderTag        string          `json:"folder_tag,omitempty"`
	SourcePath       string          `json:"source_path,omitempty"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
	RetentionUntil   *time.Time      `json:"retention_until,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Extraction       *ExtractionView `json:"extraction,omitempty"`
}

// ExtractionView is stored field extraction output
type ExtractionView struct {
	DocumentType string          `json:"document_type"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	Result       json.RawMessage `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ChunkView is a chunk with its embedding summarized
type ChunkView struct {
	ID               int64     `json:"id"`
	DocumentID       string    `json:"document_id"`
	ChunkIndex       int       `json:"chunk_index"`
	Content          string    `json:"content"`
	PageStart        int       `json:"page_start"`
	PageEnd          int       `json:"page_end"`
	TokenCount       int       `json:"token_count"`
	SectionHeader    string    `json:"section_header,omitempty"`
	IsOCR            bool      `json:"is_ocr"`
	EmbeddingModel   string    `json:"embedding_model,omitempty"`
	HasEmbedding     bool      `json:"has_embedding"`
	EmbeddingPreview []float32 `json:"embedding_preview,omitempty"`
}

// ReindexRequest selects documents to re-ingest
type ReindexRequest struct {
	DocumentIDs  []string `json:"document_ids"`
	AllDocuments bool     `json:"all_documents"`
	StaleModel   string   `json:"stale_model,omitempty"`
}

// ReindexResponse reports how many documents were queued
type ReindexResponse struct {
	QueuedCount int      `json:"queued_count"`
	NotFound    []string `json:"not_found,omitempty"`
	Message     string   `json:"message"`
}

// SearchRequest is the search body
type SearchRequest struct {
	Query        string   `json:"query"`
	ClientCode   string   `json:"client_code,omitempty"`
	CaseID       string   `json:"case_id,omitempty"`
	DocTypes     []string `json:"doc_types,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
	VectorWeight *float64 `json:"vector_weight,omitempty"`
	FTSWeight    *float64 `json:"fts_weight,omitempty"`
}

// SearchResponse is the search result
type SearchResponse struct {
	Query        string           `json:"query"`
	TotalResults int              `json:"total_results"`
	Citations    []types.Citation `json:"citations"`
}

func newDocumentView(d *types.Document) DocumentView {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return DocumentView{
		ID:               d.ID,
		CaseID:           d.CaseID,
		Filename:         d.Filename,
		OriginalFilename: d.OriginalFilename,
		StorageKey:       d.StorageKey,
		MimeType:         d.MimeType,
		FileSize:         d.FileSize,
		PageCount:        d.PageCount,
		Status:           string(d.Status),
		ProcessingError:  d.ProcessingError,
		IsOCR:            d.IsOCR,
		EmbeddingModel:   d.EmbeddingModel,
		Tags:             tags,
		IsPermanent:      d.IsPermanent,
		FolderTag:        d.FolderTag,
		SourcePath:       d.SourcePath,
		DeletedAt:        d.DeletedAt,
		RetentionUntil:   d.RetentionUntil,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func newChunkView(ch *types.Chunk) ChunkView {
	v := ChunkView{
		ID:             ch.ID,
		DocumentID:     ch.DocumentID,
		ChunkIndex:     ch.ChunkIndex,
		Content:        ch.Content,
		PageStart:      ch.PageStart,
		PageEnd:        ch.PageEnd,
		TokenCount:     ch.TokenCount,
		SectionHeader:  ch.SectionHeader,
		IsOCR:          ch.IsOCR,
		EmbeddingModel: ch.EmbeddingModel,
		HasEmbedding:   len(ch.Embedding) > 0,
	}
	if v.HasEmbedding {
		v.EmbeddingPreview = ch.Embedding[:min(embeddingPreviewLen, len(ch.Embedding))]
	}
	return v
}

// Upload handles POST /documents/upload
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	caseID := c.PostForm("case_id")
	if caseID == "" {
		caseID = c.Query("case_id")
	}
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer file.Close()

	doc, err := h.ingest.Upload(c.Request.Context(), ingest.UploadRequest{
		CaseID:   caseID,
		Filename: header.Filename,
		Tags:     formTags(c),
		Body:     file,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrDuplicate) && doc != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error":                gin.H{"code": "DUPLICATE", "message": "file with same content already stored"},
				"existing_document_id": doc.ID,
			})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newDocumentView(doc))
}

// formTags accepts repeated tags fields or one comma-separated value
func formTags(c *gin.Context) []string {
	var tags []string
	for _, v := range c.PostFormArray("tags") {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

// GetDocument handles GET /documents/:id
func (h *Handler) GetDocument(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := h.store.GetDocument(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	view := newDocumentView(doc)

	ext, err := h.store.GetExtraction(ctx, doc.ID)
	switch {
	case err == nil:
		view.Extraction = &ExtractionView{
			DocumentType: ext.DocumentType,
			Provider:     ext.Provider,
			Model:        ext.Model,
			Result:       json.RawMessage(ext.Content),
			CreatedAt:    ext.CreatedAt,
		}
	case !errors.Is(err, storage.ErrNotFound):
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListChunks handles GET /admin/documents/:id/chunks
func (h *Handler) ListChunks(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.store.GetDocument(ctx, id); err != nil {
		fail(c, err)
		return
	}
	chunks, err := h.store.ListChunks(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	views := make([]ChunkView, len(chunks))
	for i, ch := range chunks {
		views[i] = newChunkView(ch)
	}
	c.JSON(http.StatusOK, views)
}

// Reindex handles POST /admin/reindex
func (h *Handler) Reindex(c *gin.Context) {
	var req ReindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	var (
		result *ingest.ReindexResult
		err    error
	)
	if req.StaleModel != "" {
		result, err = h.ingest.ReindexStale(c.Request.Context(), req.StaleModel)
	} else {
		result, err = h.ingest.Reindex(c.Request.Context(), req.DocumentIDs, req.AllDocuments)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ReindexResponse{
		QueuedCount: result.Queued,
		NotFound:    result.NotFound,
		Message:     fmt.Sprintf("Queued %d documents for reindexing", result.Queued),
	})
}

// Search handles POST /search
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	sreq := searcher.SearchRequest{
		Query:        req.Query,
		TopK:         req.TopK,
		VectorWeight: req.VectorWeight,
		TextWeight:   req.FTSWeight,
		UseCache:     true,
	}
	if req.ClientCode != "" || req.CaseID != "" || len(req.DocTypes) > 0 {
		sreq.Filters = &storage.SearchFilters{
			CaseID:     req.CaseID,
			ClientCode: req.ClientCode,
			Tags:       req.DocTypes,
		}
	}

	resp, err := h.search.Search(c.Request.Context(), sreq)
	if err != nil {
		fail(c, err)
		return
	}
	citations := resp.Citations
	if citations == nil {
		citations = []types.Citation{}
	}
	c.JSON(http.StatusOK, SearchResponse{
		Query:        resp.Query,
		TotalResults: resp.TotalResults,
		Citations:    citations,
	})
}
