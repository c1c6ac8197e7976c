package types

import "time"

// QueueItemType is the kind of entity awaiting approval
type QueueItemType string

const (
	QueueItemClient QueueItemType = "client"
	QueueItemCase   QueueItemType = "case"
)

// QueueStatus is the review state of a sync queue item
type QueueStatus string

const (
	QueuePending      QueueStatus = "pending"
	QueueApproved     QueueStatus = "approved"
	QueueRejected     QueueStatus = "rejected"
	QueueAutoApproved QueueStatus = "auto_approved"
)

// SyncQueueItem holds a newly detected client or case until it is reviewed.
// NASPath is unique: at most one item exists per folder.
type SyncQueueItem struct {
	ID            string
	ItemType      QueueItemType
	NASPath       string
	ParsedData    map[string]any
	Status        QueueStatus
	AutoApproveAt *time.Time
	CreatedAt     time.Time
	ReviewedAt    *time.Time
	ReviewedBy    string
	Notes         string
}

// DueForAutoApproval reports whether the item is pending and its deadline has passed
func (q *SyncQueueItem) DueForAutoApproval(now time.Time) bool {
	if q.Status != QueuePending || q.AutoApproveAt == nil {
		return false
	}
	return !now.Before(*q.AutoApproveAt)
}

// ApprovalStatus of a client record
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
)

// Client is an individual or business taxpayer
type Client struct {
	ID             string
	ClientCode     string
	Name           string
	ClientType     ClientType
	NASFolderPath  string
	ApprovalStatus string
	ApprovedAt     *time.Time
	CreatedAt      time.Time
}

// Approved reports whether documents for the client may be ingested
func (c *Client) Approved() bool {
	return c.ApprovalStatus == ApprovalApproved
}

// Case groups a client's documents by tax year, or holds permanent documents
type Case struct {
	ID          string
	ClientID    string
	TaxYear     int
	CaseType    string
	Status      string
	IsPermanent bool
	NASYearPath string
	CreatedAt   time.Time
}

// ClientRelationship links an individual to a business they own
type ClientRelationship struct {
	ID               string
	IndividualID     string
	BusinessID       string
	RelationshipType string
	Source           string
	SourcePath       string
	CreatedAt        time.Time
}
