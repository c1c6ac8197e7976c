package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/pkg/types"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 500

	// SystemReviewer marks reviews made by the auto-approve sweep
	SystemReviewer = "system"
)

// ListQueue returns queue items newest first, optionally filtered by status
func (s *Service) ListQueue(ctx context.Context, status string, limit, offset int) (*types.QueueListResponse, error) {
	filter := storage.QueueFilter{Status: types.QueueStatus(status), Limit: limit, Offset: offset}
	switch filter.Status {
	case "", types.QueuePending, types.QueueApproved, types.QueueRejected, types.QueueAutoApproved:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultQueueLimit
	}
	filter.Limit = min(filter.Limit, maxQueueLimit)
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidRequest)
	}

	items, total, err := s.store.ListQueueItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.CountQueueItems(ctx, types.QueuePending)
	if err != nil {
		return nil, err
	}

	views := make([]types.QueueItemView, len(items))
	for i, item := range items {
		views[i] = types.NewQueueItemView(item)
	}
	return &types.QueueListResponse{Items: views, Total: total, PendingCount: pending}, nil
}

// Approve approves a pending item and creates the client or case it describes
func (s *Service) Approve(ctx context.Context, id, reviewer, notes string) (*types.QueueActionResponse, error) {
	if err := s.review(ctx, id, types.QueueApproved, reviewer, notes); err != nil {
		return nil, err
	}
	return &types.QueueActionResponse{Status: string(types.QueueApproved), ItemID: id}, nil
}

// Reject rejects a pending item. Files under the folder are not ingested.
func (s *Service) Reject(ctx context.Context, id, reviewer, notes string) (*types.QueueActionResponse, error) {
	if err := s.review(ctx, id, types.QueueRejected, reviewer, notes); err != nil {
		return nil, err
	}
	return &types.QueueActionResponse{Status: string(types.QueueRejected), ItemID: id}, nil
}

// AutoApproveDue approves every pending item whose deadline has passed.
// Items reviewed concurrently by a person are left alone.
func (s *Service) AutoApproveDue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	items, err := s.store.ListDueQueueItems(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due items: %w", err)
	}

	approved := 0
	for _, item := range items {
		if !item.DueForAutoApproval(now) {
			continue
		}
		err := s.review(ctx, item.ID, types.QueueAutoApproved, SystemReviewer, "")
		switch {
		case err == nil:
			approved++
		case errors.Is(err, storage.ErrAlreadyReviewed):
		default:
			s.logger.Error("auto-approve failed", zap.String("item_id", item.ID), zap.Error(err))
		}
	}
	return approved, nil
}

// review applies a one-way decision inside a transaction. Approvals create the
// deferred client or case in the same transaction.
func (s *Service) review(ctx context.Context, id string, status types.QueueStatus, reviewer, notes string) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := tx.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != types.QueuePending {
		return fmt.Errorf("%w: item already %s", storage.ErrAlreadyReviewed, item.Status)
	}

	if status != types.QueueRejected {
		switch item.ItemType {
		case types.QueueItemClient:
			err = s.createClient(ctx, tx, item)
		case types.QueueItemCase:
			err = s.createCase(ctx, tx, item)
		default:
			err = fmt.Errorf("unknown queue item type %q", item.ItemType)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.ReviewQueueItem(ctx, id, storage.Review{
		Status:     status,
		ReviewedAt: s.now().UTC(),
		ReviewedBy: reviewer,
		Notes:      notes,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review: %w", err)
	}

	s.metrics.RecordQueueTransition(string(item.ItemType), string(status))
	s.logger.Info("queue item reviewed",
		zap.String("item_id", id),
		zap.String("item_type", string(item.ItemType)),
		zap.String("status", string(status)),
		zap.String("reviewer", reviewer))
	return nil
}

func (s *Service) createClient(ctx context.Context, tx storage.Tx, item *types.SyncQueueItem) error {
	code := stringValue(item.ParsedData["client_code"])
	if code == "" {
		return fmt.Errorf("%w: queue item %s has no client_code", ErrInvalidRequest, item.ID)
	}
	if _, err := tx.GetClientByCode(ctx, code); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	name := stringValue(item.ParsedData["client_name"])
	if name == "" {
		name = code
	}
	clientType := types.ClientType(stringValue(item.ParsedData["client_type"]))
	if clientType == "" {
		clientType = types.ClientIndividual
	}
	approvedAt := s.now().UTC()
	return tx.CreateClient(ctx, &types.Client{
		ClientCode:     code,
		Name:           name,
		ClientType:     clientType,
		NASFolderPath:  item.NASPath,
		ApprovalStatus: types.ApprovalApproved,
		ApprovedAt:     &approvedAt,
	})
}

func (s *Service) createCase(ctx context.Context, tx storage.Tx, item *types.SyncQueueItem) error {
	clientID := stringValue(item.ParsedData["client_id"])
	year, ok := intValue(item.ParsedData["year"])
	if clientID == "" || !ok {
		return fmt.Errorf("%w: queue item %s has no client_id or year", ErrInvalidRequest, item.ID)
	}
	if _, err := tx.FindYearCase(ctx, clientID, year); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return tx.CreateCase(ctx, &types.Case{
		ClientID:    clientID,
		TaxYear:     year,
		CaseType:    "tax_return",
		NASYearPath: item.NASPath,
	})
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// intValue reads a JSON number that may have been decoded as float64
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
