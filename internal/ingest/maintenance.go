package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lecpa/docsync/internal/blobstore"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

const reindexConcurrency = 8

// PurgeExpired hard-deletes soft-deleted documents past their retention date
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.store.PurgeDeletedDocuments(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge documents: %w", err)
	}
	if n > 0 {
		s.invalidateCache()
		s.logger.Info("purged deleted documents", zap.Int("count", n))
	}
	return n, nil
}

// RunSweeper auto-approves due queue items and purges expired documents every
// interval until ctx is done
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	approved, err := s.AutoApproveDue(ctx)
	if err != nil {
		s.logger.Error("auto-approve sweep failed", zap.Error(err))
	} else if approved > 0 {
		s.logger.Info("auto-approved queue items", zap.Int("count", approved))
	}
	if _, err := s.PurgeExpired(ctx); err != nil {
		s.logger.Error("purge sweep failed", zap.Error(err))
	}
}

// ReindexResult reports a re-index request
type ReindexResult struct {
	Queued   int      `json:"queued"`
	NotFound []string `json:"not_found"`
}

// Reindex resets documents to pending and queues them again. all selects
// every non-deleted document.
func (s *Service) Reindex(ctx context.Context, ids []string, all bool) (*ReindexResult, error) {
	if all {
		var err error
		if ids, err = s.store.ListDocumentIDs(ctx); err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
	} else if len(ids) == 0 {
		return nil, fmt.Errorf("%w: document_ids or all_documents is required", ErrInvalidRequest)
	}
	return s.reindex(ctx, ids)
}

// ReindexStale queues every document embedded with a model other than model
func (s *Service) ReindexStale(ctx context.Context, model string) (*ReindexResult, error) {
	ids, err := s.store.ListStaleEmbeddings(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale documents: %w", err)
	}
	return s.reindex(ctx, ids)
}

func (s *Service) reindex(ctx context.Context, ids []string) (*ReindexResult, error) {
	result := &ReindexResult{NotFound: []string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reindexConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := s.store.UpdateDocumentStatus(gctx, id, types.StatusPending, "")
			if errors.Is(err, storage.ErrNotFound) {
				mu.Lock()
				result.NotFound = append(result.NotFound, id)
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to reset %s: %w", id, err)
			}
			if err := s.enqueuer.Enqueue(gctx, id); err != nil {
				return err
			}
			mu.Lock()
			result.Queued++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if result.Queued > 0 {
		// reset documents are no longer ready and drop out of search
		s.invalidateCache()
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("re-index queued", zap.Int("queued", result.Queued), zap.Int("not_found", len(result.NotFound)))
	return result, nil
}

// UploadRequest is a direct document upload
type UploadRequest struct {
	CaseID   string
	Filename string
	Tags     []string
	Body     io.Reader
}

// Upload stores the bytes, records the document, and queues it. Content
// already stored under another document returns ErrDuplicate.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*types.Document, error) {
	if req.CaseID == "" || req.Filename == "" || req.Body == nil {
		return nil, fmt.Errorf("%w: case_id and file are required", ErrInvalidRequest)
	}
	if _, err := s.store.GetCase(ctx, req.CaseID); err != nil {
		return nil, fmt.Errorf("failed to find case: %w", err)
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if existing, err := s.store.GetDocumentByHash(ctx, hash); err == nil {
		return existing, fmt.Errorf("%w: %s", ErrDuplicate, existing.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	filename := filepath.Base(req.Filename)
	id := uuid.New().String()
	key := blobstore.UploadKey(req.CaseID, id, filename)
	if err := s.blobs.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	doc := &types.Document{
		ID:               id,
		CaseID:           req.CaseID,
		Filename:         filename,
		OriginalFilename: req.Filename,
		StorageKey:       key,
		MimeType:         blobstore.ContentType(filename),
		FileSize:         int64(len(data)),
		FileHash:         hash,
		Status:           types.StatusPending,
		Tags:             tags,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		_ = s.blobs.Delete(ctx, key)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, filename)
		}
		return nil, err
	}

	if err := s.enqueuer.Enqueue(ctx, doc.ID); err != nil {
		s.logger.Error("failed to enqueue upload", zap.String("document_id", doc.ID), zap.Error(err))
	}
	s.logger.Info("document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("case_id", req.CaseID),
		zap.Int64("size", doc.FileSize))
	return doc, nil
}
