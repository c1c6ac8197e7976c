package types

import "time"

// Outcomes reported by the sync boundary
const (
	SyncQueued          = "queued"
	SyncPendingApproval = "pending_approval"
	SyncDuplicate       = "duplicate"
	SyncError           = "error"
	SyncSoftDeleted     = "soft_deleted"
	SyncNotFound        = "not_found"

	RelationshipCreated = "created"
	RelationshipExists  = "exists"
	RelationshipSkipped = "skipped"
)

// Agent health derived from the last heartbeat
const (
	AgentHealthy      = "healthy"
	AgentStale        = "stale"
	AgentDisconnected = "disconnected"
)

// FileArrivedRequest announces a new or modified file
type FileArrivedRequest struct {
	NASPath      string     `json:"nas_path"`
	FileSize     int64      `json:"file_size"`
	FileHash     string     `json:"file_hash"` // "sha256:<hex>"
	ModifiedTime time.Time  `json:"modified_time"`
	ParsedInfo   ParsedPath `json:"parsed_info"`
}

// FileArrivedResponse is the admission decision for one file
type FileArrivedResponse struct {
	Status             string `json:"status"`
	DocumentID         string `json:"document_id,omitempty"`
	QueueItemID        string `json:"queue_item_id,omitempty"`
	ExistingDocumentID string `json:"existing_document_id,omitempty"`
	Message            string `json:"message"`
}

// FileDeletedRequest announces a removed file
type FileDeletedRequest struct {
	NASPath string `json:"nas_path"`
}

// FileDeletedResponse reports a soft delete
type FileDeletedResponse struct {
	Status         string     `json:"status"`
	DocumentID     string     `json:"document_id,omitempty"`
	RetentionUntil *time.Time `json:"retention_until,omitempty"`
	Message        string     `json:"message"`
}

// RelationshipRequest records an ownership link found in a shortcut
type RelationshipRequest struct {
	IndividualCode string `json:"individual_code"`
	BusinessCode   string `json:"business_code"`
	Source         string `json:"source"`
	SourcePath     string `json:"source_path,omitempty"`
}

// RelationshipResponse reports whether the link was stored
type RelationshipResponse struct {
	Status         string `json:"status"`
	RelationshipID string `json:"relationship_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat
type HeartbeatResponse struct {
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"received_at"`
}

// QueueItemView is a sync queue item as shown to reviewers
type QueueItemView struct {
	ID            string         `json:"id"`
	ItemType      string         `json:"item_type"`
	NASPath       string         `json:"nas_path"`
	ParsedData    map[string]any `json:"parsed_data"`
	Status        string         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	AutoApproveAt *time.Time     `json:"auto_approve_at,omitempty"`
	ReviewedAt    *time.Time     `json:"reviewed_at,omitempty"`
	ReviewedBy    string         `json:"reviewed_by,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

// NewQueueItemView converts a stored item
func NewQueueItemView(item *SyncQueueItem) QueueItemView {
	return QueueItemView{
		ID:            item.ID,
		ItemType:      string(item.ItemType),
		NASPath:       item.NASPath,
		ParsedData:    item.ParsedData,
		Status:        string(item.Status),
		CreatedAt:     item.CreatedAt,
		AutoApproveAt: item.AutoApproveAt,
		ReviewedAt:    item.ReviewedAt,
		ReviewedBy:    item.ReviewedBy,
		Notes:         item.Notes,
	}
}

// QueueListResponse is one page of the sync queue
type QueueListResponse struct {
	Items        []QueueItemView `json:"items"`
	Total        int             `json:"total"`
	PendingCount int             `json:"pending_count"`
}

// QueueActionRequest carries optional reviewer notes
type QueueActionRequest struct {
	Notes string `json:"notes,omitempty"`
}

// QueueActionResponse reports a review decision
type QueueActionResponse struct {
	Status string `json:"status"`
	ItemID string `json:"item_id"`
}

// QueueStats summarizes work in flight
type QueueStats struct {
	PendingApproval int `json:"pending_approval"`
	Processing      int `json:"processing"`
	FailedToday     int `json:"failed_today"`
}

// TodayStats counts documents since midnight UTC
type TodayStats struct {
	FilesDetected  int `json:"files_detected"`
	FilesProcessed int `json:"files_processed"`
	FilesFailed    int `json:"files_failed"`
}

// SyncStatusResponse feeds monitoring and the daily digest
type SyncStatusResponse struct {
	AgentStatus   string     `json:"agent_status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	LastFileEvent *time.Time `json:"last_file_event,omitempty"`
	QueueStats    QueueStats `json:"queue_stats"`
	TodayStats    TodayStats `json:"today_stats"`
}
