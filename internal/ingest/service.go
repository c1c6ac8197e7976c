// Package ingest is the server side of the sync boundary. It admits files
// announced by the agent, gating new clients and cases behind the approval
// queue, and hands admitted documents to the pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/blobstore"
	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

var (
	// ErrInvalidRequest is returned for malformed admin or upload requests
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDuplicate is returned when uploaded content is already stored
	ErrDuplicate = errors.New("duplicate document")
)

// Enqueuer hands a document to the processing pipeline
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID string) error
}

// CacheInvalidator drops cached search responses
type CacheInvalidator interface {
	InvalidateCache()
}

// Service implements the ingestion boundary
type Service struct {
	store    storage.Storage
	enqueuer Enqueuer
	blobs    blobstore.Store
	state    *AgentState
	logger   *zap.Logger
	metrics  *metrics.Recorder
	cache    CacheInvalidator

	autoApproveDelay time.Duration
	retention        time.Duration
	now              func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCacheInvalidator clears search results whenever a document leaves or
// re-enters the searchable set
func WithCacheInvalidator(cache CacheInvalidator) Option {
	return func(s *Service) { s.cache = cache }
}

// WithAgentState shares liveness state with another component
func WithAgentState(state *AgentState) Option {
	return func(s *Service) { s.state = state }
}

// NewService creates a Service. blobs stores direct uploads.
func NewService(cfg *config.Config, store storage.Storage, enqueuer Enqueuer, blobs blobstore.Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		enqueuer:         enqueuer,
		blobs:            blobs,
		state:            NewAgentState(),
		logger:           zap.NewNop(),
		autoApproveDelay: cfg.AutoApproveDelay(),
		retention:        cfg.RetentionWindow(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) invalidateCache() {
	if s.cache != nil {
		s.cache.InvalidateCache()
	}
}

// State returns the agent liveness state
func (s *Service) State() *AgentState {
	return s.state
}

// FileArrived decides whether a file is a duplicate, waits on approval, or
// becomes a new document queued for ingestion
func (s *Service) FileArrived(ctx context.Context, req types.FileArrivedRequest) (*types.FileArrivedResponse, error) {
	now := s.now().UTC()
	s.state.RecordFileEvent(now)

	resp, err := s.fileArrived(ctx, req, now)
	if err != nil {
		s.metrics.RecordFileEvent("arrived", types.SyncError)
		return nil, err
	}
	s.metrics.RecordFileEvent("arrived", resp.Status)
	s.logger.Info("file arrived",
		zap.String("path", req.NASPath),
		zap.String("status", resp.Status),
		zap.String("document_id", firstNonEmpty(resp.DocumentID, resp.ExistingDocumentID)))
	return resp, nil
}

func (s *Service) fileArrived(ctx context.Context, req types.FileArrivedRequest, now time.Time) (*types.FileArrivedResponse, error) {
	parsed := req.ParsedInfo
	if parsed.ClientCode == "" {
		return &types.FileArrivedResponse{Status: types.SyncError, Message: "No client code in parsed path"}, nil
	}

	if resp, err := s.checkDuplicate(ctx, req, now); resp != nil || err != nil {
		return resp, err
	}

	clientFolder, caseFolder := folders(req)

	client, resp, err := s.resolveClient(ctx, parsed, clientFolder, now)
	if resp != nil || err != nil {
		return resp, err
	}

	c, resp, err := s.resolveCase(ctx, client, parsed, clientFolder, caseFolder, path.Dir(req.NASPath), now)
	if resp != nil || err != nil {
		return resp, err
	}

	filename := path.Base(req.NASPath)
	doc := &types.Document{
		CaseID:           c.ID,
		Filename:         filename,
		OriginalFilename: filename,
		StorageKey:       req.NASPath,
		MimeType:         blobstore.ContentType(filename),
		FileSize:         req.FileSize,
		FileHash:         normalizeHash(req.FileHash),
		Status:           types.StatusPending,
		Tags:             parsed.DetectedTags,
		IsPermanent:      parsed.IsPermanent,
		FolderTag:        parsed.FolderTag,
		NASRelativePath:  parsed.RelativePath,
		SourcePath:       req.NASPath,
		LastSeenAt:       &now,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// lost a race with an identical event; the store kept the first insert
			if resp, derr := s.checkDuplicate(ctx, req, now); resp != nil || derr != nil {
				return resp, derr
			}
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	if err := s.enqueuer.Enqueue(ctx, doc.ID); err != nil {
		s.logger.Error("failed to enqueue document", zap.String("document_id", doc.ID), zap.Error(err))
		return &types.FileArrivedResponse{
			Status:     types.SyncQueued,
			DocumentID: doc.ID,
			Message:    "Document created; ingestion dispatch failed, re-index required",
		}, nil
	}

	return &types.FileArrivedResponse{
		Status:     types.SyncQueued,
		DocumentID: doc.ID,
		Message:    "Document queued for ingestion",
	}, nil
}

// checkDuplicate returns a duplicate response for a known path or content hash.
// A known path is touched, and restored if it had been soft-deleted. Content
// matching a soft-deleted document is a move: the document follows the file
// to its new path instead of waiting out its retention.
func (s *Service) checkDuplicate(ctx context.Context, req types.FileArrivedRequest, now time.Time) (*types.FileArrivedResponse, error) {
	existing, err := s.store.GetDocumentBySourcePath(ctx, req.NASPath)
	switch {
	case err == nil:
		if existing.DeletedAt != nil {
			err = s.store.RestoreDocument(ctx, existing.ID, now)
		} else {
			err = s.store.TouchDocument(ctx, existing.ID, now)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update last seen: %w", err)
		}
		if existing.DeletedAt != nil {
			s.invalidateCache()
		}
		return &types.FileArrivedResponse{
			Status:             types.SyncDuplicate,
			ExistingDocumentID: existing.ID,
			Message:            "File already indexed",
		}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to look up path: %w", err)
	}

	hash := normalizeHash(req.FileHash)
	if hash == "" {
		return nil, nil
	}
	match, err := s.store.GetDocumentByHash(ctx, hash)
	switch {
	case err == nil && match.DeletedAt != nil:
		err = s.store.RelocateDocument(ctx, match.ID, storage.Relocation{
			SourcePath:   req.NASPath,
			RelativePath: req.ParsedInfo.RelativePath,
			Filename:     path.Base(req.NASPath),
			SeenAt:       now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to relocate document: %w", err)
		}
		s.invalidateCache()
		s.logger.Info("document moved",
			zap.String("document_id", match.ID),
			zap.String("from", match.SourcePath),
			zap.String("to", req.NASPath))
		return &types.FileArrivedResponse{
			Status:             types.SyncDuplicate,
			ExistingDocumentID: match.ID,
			Message:            "File moved; existing document restored at new path",
		}, nil
	case err == nil:
		return &types.FileArrivedResponse{
			Status:             types.SyncDuplicate,
			ExistingDocumentID: match.ID,
			Message:            "File with same content already indexed",
		}, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to look up hash: %w", err)
	}
}

// resolveClient returns the approved client, or a response when the file must wait
func (s *Service) resolveClient(ctx context.Context, parsed types.ParsedPath, folder string, now time.Time) (*types.Client, *types.FileArrivedResponse, error) {
	client, err := s.store.GetClientByCode(ctx, parsed.ClientCode)
	if err == nil {
		if client.Approved() {
			return client, nil, nil
		}
		item, err := s.store.GetQueueItemByPath(ctx, folder)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to look up queue item: %w", err)
		}
		return nil, pendingResponse(item, "Client requires approval before ingestion"), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to look up client: %w", err)
	}

	clientType := parsed.ClientType
	if clientType == "" {
		clientType = types.ClientIndividual
	}
	name := parsed.ClientName
	if name == "" {
		name = parsed.ClientCode
	}
	item, err := s.queue(ctx, types.QueueItemClient, folder, map[string]any{
		"client_code": parsed.ClientCode,
		"client_name": name,
		"client_type": string(clientType),
	}, now)
	if err != nil {
		return nil, nil, err
	}
	if item.Status == types.QueueRejected {
		return nil, &types.FileArrivedResponse{
			Status:      types.SyncError,
			QueueItemID: item.ID,
			Message:     "Client folder was rejected; file not ingested",
		}, nil
	}
	return nil, pendingResponse(item, "Client requires approval before ingestion"), nil
}

// resolveCase returns the case for the file, or a response when the file must wait.
// Permanent files bypass approval and share one permanent case per client.
func (s *Service) resolveCase(ctx context.Context, client *types.Client, parsed types.ParsedPath, clientFolder, folder, dir string, now time.Time) (*types.Case, *types.FileArrivedResponse, error) {
	if parsed.IsPermanent {
		c, err := s.store.FindPermanentCase(ctx, client.ID)
		if err == nil {
			return c, nil, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to look up permanent case: %w", err)
		}
		c = &types.Case{
			ClientID:    client.ID,
			TaxYear:     0,
			CaseType:    "other",
			IsPermanent: true,
			NASYearPath: dir,
		}
		if err := s.store.CreateCase(ctx, c); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// a concurrent arrival created it first
				if existing, ferr := s.store.FindPermanentCase(ctx, client.ID); ferr == nil {
					return existing, nil, nil
				}
			}
			return nil, nil, fmt.Errorf("failed to create permanent case: %w", err)
		}
		s.logger.Info("created permanent case", zap.String("client_code", client.ClientCode), zap.String("case_id", c.ID))
		return c, nil, nil
	}

	year := now.Year()
	if parsed.Year != nil {
		year = *parsed.Year
	}
	c, err := s.store.FindYearCase(ctx, client.ID, year)
	if err == nil {
		return c, nil, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to look up case: %w", err)
	}

	if parsed.Year == nil {
		// files outside a year folder join the current year's case
		folder = clientFolder + strconv.Itoa(year) + "/"
	}
	item, err := s.queue(ctx, types.QueueItemCase, folder, map[string]any{
		"client_id":   client.ID,
		"client_code": client.ClientCode,
		"year":        year,
	}, now)
	if err != nil {
		return nil, nil, err
	}
	if item.Status == types.QueueRejected {
		return nil, &types.FileArrivedResponse{
			Status:      types.SyncError,
			QueueItemID: item.ID,
			Message:     "Case folder was rejected; file not ingested",
		}, nil
	}
	return nil, pendingResponse(item, "Case requires approval before ingestion"), nil
}

// queue returns the item for folder, creating a pending one if none exists
func (s *Service) queue(ctx context.Context, itemType types.QueueItemType, folder string, data map[string]any, now time.Time) (*types.SyncQueueItem, error) {
	existing, err := s.store.GetQueueItemByPath(ctx, folder)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up queue item: %w", err)
	}

	deadline := now.Add(s.autoApproveDelay)
	item := &types.SyncQueueItem{
		ItemType:      itemType,
		NASPath:       folder,
		ParsedData:    data,
		Status:        types.QueuePending,
		AutoApproveAt: &deadline,
		CreatedAt:     now,
	}
	if err := s.store.CreateQueueItem(ctx, item); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return s.store.GetQueueItemByPath(ctx, folder)
		}
		return nil, err
	}
	s.metrics.RecordQueueTransition(string(itemType), string(types.QueuePending))
	s.logger.Info("queued for approval",
		zap.String("item_type", string(itemType)),
		zap.String("path", folder),
		zap.Time("auto_approve_at", deadline))
	return item, nil
}

// FileDeleted soft-deletes the document stored for a NAS path
func (s *Service) FileDeleted(ctx context.Context, req types.FileDeletedRequest) (*types.FileDeletedResponse, error) {
	now := s.now().UTC()
	s.state.RecordFileEvent(now)

	doc, err := s.store.GetDocumentBySourcePath(ctx, req.NASPath)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordFileEvent("deleted", types.SyncNotFound)
		return &types.FileDeletedResponse{Status: types.SyncNotFound, Message: "Document not found in database"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up path: %w", err)
	}

	retention := now.Add(s.retention)
	if doc.DeletedAt != nil && doc.RetentionUntil != nil {
		retention = *doc.RetentionUntil
	} else if err := s.store.SoftDeleteDocument(ctx, doc.ID, now, retention); err != nil {
		return nil, fmt.Errorf("failed to soft delete: %w", err)
	} else {
		s.invalidateCache()
	}

	s.metrics.RecordFileEvent("deleted", types.SyncSoftDeleted)
	s.logger.Info("document soft-deleted",
		zap.String("path", req.NASPath),
		zap.String("document_id", doc.ID),
		zap.Time("retention_until", retention))
	return &types.FileDeletedResponse{
		Status:         types.SyncSoftDeleted,
		DocumentID:     doc.ID,
		RetentionUntil: &retention,
		Message:        fmt.Sprintf("Document soft-deleted, will be purged after %s", retention.Format(time.DateOnly)),
	}, nil
}

// Heartbeat records agent liveness
func (s *Service) Heartbeat() types.HeartbeatResponse {
	now := s.now().UTC()
	s.state.RecordHeartbeat(now)
	return types.HeartbeatResponse{Status: "ok", ReceivedAt: now}
}

// Relationship records an individual-to-business link. Unknown clients are skipped.
func (s *Service) Relationship(ctx context.Context, req types.RelationshipRequest) (*types.RelationshipResponse, error) {
	individual, err := s.store.GetClientByCode(ctx, req.IndividualCode)
	if errors.Is(err, storage.ErrNotFound) {
		return &types.RelationshipResponse{Status: types.RelationshipSkipped, Message: "Individual client not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	business, err := s.store.GetClientByCode(ctx, req.BusinessCode)
	if errors.Is(err, storage.ErrNotFound) {
		return &types.RelationshipResponse{Status: types.RelationshipSkipped, Message: "Business client not found"}, nil
	}
	if err != nil {
		return nil, err
	}

	rel := &types.ClientRelationship{
		IndividualID: individual.ID,
		BusinessID:   business.ID,
		Source:       req.Source,
		SourcePath:   req.SourcePath,
	}
	created, err := s.store.CreateRelationship(ctx, rel)
	if err != nil {
		return nil, err
	}
	if !created {
		return &types.RelationshipResponse{Status: types.RelationshipExists}, nil
	}
	s.logger.Info("client relationship recorded",
		zap.String("individual", req.IndividualCode),
		zap.String("business", req.BusinessCode))
	return &types.RelationshipResponse{Status: types.RelationshipCreated, RelationshipID: rel.ID}, nil
}

// SyncStatus reports agent health and today's counts
func (s *Service) SyncStatus(ctx context.Context) (*types.SyncStatusResponse, error) {
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	stats, err := s.store.GetSyncStats(ctx, dayStart)
	if err != nil {
		return nil, err
	}
	return &types.SyncStatusResponse{
		AgentStatus:   s.state.Health(now),
		LastHeartbeat: s.state.LastHeartbeat(),
		LastFileEvent: s.state.LastFileEvent(),
		QueueStats: types.QueueStats{
			PendingApproval: stats.PendingApproval,
			Processing:      stats.Processing,
			FailedToday:     stats.FailedToday,
		},
		TodayStats: types.TodayStats{
			FilesDetected:  stats.FilesDetectedToday,
			FilesProcessed: stats.FilesProcessedToday,
			FilesFailed:    stats.FailedToday,
		},
	}, nil
}

// folders derives the client folder and case folder queue paths from a file path
func folders(req types.FileArrivedRequest) (clientFolder, caseFolder string) {
	rel := req.ParsedInfo.RelativePath
	if rel != "" && strings.HasSuffix(req.NASPath, "/"+rel) {
		clientFolder = strings.TrimSuffix(req.NASPath, rel)
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			return clientFolder, clientFolder + rel[:i+1]
		}
		return clientFolder, clientFolder
	}
	dir := path.Dir(req.NASPath)
	return path.Dir(dir) + "/", dir + "/"
}

func pendingResponse(item *types.SyncQueueItem, message string) *types.FileArrivedResponse {
	resp := &types.FileArrivedResponse{Status: types.SyncPendingApproval, Message: message}
	if item != nil {
		resp.QueueItemID = item.ID
	}
	return resp
}

func normalizeHash(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "sha256:")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
