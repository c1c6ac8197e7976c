package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lecpa/docsync/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique constraint rejects an insert
	ErrAlreadyExists = errors.New("already exists")
	// ErrAlreadyReviewed is returned when reviewing a queue item that is no longer pending
	ErrAlreadyReviewed = errors.New("queue item already reviewed")
)

// Storage defines the interface for persisting clients, cases, documents, chunks and the sync queue
type Storage interface {
	// Client operations
	CreateClient(ctx context.Context, client *types.Client) error
	GetClient(ctx context.Context, id string) (*types.Client, error)
	GetClientByCode(ctx context.Context, code string) (*types.Client, error)

	// Case operations
	CreateCase(ctx context.Context, c *types.Case) error
	GetCase(ctx context.Context, id string) (*types.Case, error)
	FindYearCase(ctx context.Context, clientID string, year int) (*types.Case, error)
	FindPermanentCase(ctx context.Context, clientID string) (*types.Case, error)

	// Document operations
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	GetDocumentBySourcePath(ctx context.Context, sourcePath string) (*types.Document, error)
	GetDocumentByHash(ctx context.Context, fileHash string) (*types.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*types.Document, error)
	ListDocumentIDs(ctx context.Context) ([]string, error)
	ListStaleEmbeddings(ctx context.Context, model string) ([]string, error)
	TouchDocument(ctx context.Context, id string, seenAt time.Time) error
	RestoreDocument(ctx context.Context, id string, seenAt time.Time) error
	RelocateDocument(ctx context.Context, id string, move Relocation) error
	UpdateDocumentStatus(ctx context.Context, id string, status types.ProcessingStatus, processingError string) error
	CompleteDocument(ctx context.Context, id string, completion Completion) error
	SoftDeleteDocument(ctx context.Context, id string, deletedAt, retentionUntil time.Time) error
	PurgeDeletedDocuments(ctx context.Context, before time.Time) (int, error)

	// Chunk operations
	ReplaceChunks(ctx context.Context, documentID string, chunks []*types.Chunk) error
	ListChunks(ctx context.Context, documentID string) ([]*types.Chunk, error)

	// Search operations
	SearchHybrid(ctx context.Context, query HybridQuery) ([]HybridResult, error)

	// Sync queue operations
	CreateQueueItem(ctx context.Context, item *types.SyncQueueItem) error
	GetQueueItem(ctx context.Context, id string) (*types.SyncQueueItem, error)
	GetQueueItemByPath(ctx context.Context, nasPath string) (*types.SyncQueueItem, error)
	ListQueueItems(ctx context.Context, filter QueueFilter) ([]*types.SyncQueueItem, int, error)
	CountQueueItems(ctx context.Context, status types.QueueStatus) (int, error)
	ListDueQueueItems(ctx context.Context, now time.Time) ([]*types.SyncQueueItem, error)
	ReviewQueueItem(ctx context.Context, id string, review Review) error

	// Relationship operations
	CreateRelationship(ctx context.Context, rel *types.ClientRelationship) (created bool, err error)

	// Extraction operations
	SaveExtraction(ctx context.Context, ext *Extraction) error
	GetExtraction(ctx context.Context, documentID string) (*Extraction, error)

	// Status operations
	GetSyncStats(ctx context.Context, dayStart time.Time) (*SyncStats, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction. It carries the operations an
// approval touches so a client and its first case commit together.
type Tx interface {
	Commit() error
	Rollback() error

	CreateClient(ctx context.Context, client *types.Client) error
	GetClientByCode(ctx context.Context, code string) (*types.Client, error)
	CreateCase(ctx context.Context, c *types.Case) error
	FindYearCase(ctx context.Context, clientID string, year int) (*types.Case, error)
	FindPermanentCase(ctx context.Context, clientID string) (*types.Case, error)
	GetQueueItem(ctx context.Context, id string) (*types.SyncQueueItem, error)
	ReviewQueueItem(ctx context.Context, id string, review Review) error
	CreateRelationship(ctx context.Context, rel *types.ClientRelationship) (created bool, err error)
}

// Relocation moves a soft-deleted document to the path its content reappeared at
type Relocation struct {
	SourcePath   string
	RelativePath string
	Filename     string
	SeenAt       time.Time
}

// DocumentFilter narrows ListDocuments
type DocumentFilter struct {
	Status         types.ProcessingStatus
	CaseID         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// QueueFilter narrows ListQueueItems
type QueueFilter struct {
	Status types.QueueStatus
	Limit  int
	Offset int
}

// Review is a one-way decision on a pending queue item
type Review struct {
	Status     types.QueueStatus
	ReviewedAt time.Time
	ReviewedBy string
	Notes      string
}

// Completion is written when a document reaches ready
type Completion struct {
	PageCount      int
	IsOCR          bool
	EmbeddingModel string
	EmbeddingDim   int
}

// SearchFilters contains filters for narrowing search results
type SearchFilters struct {
	CaseID     string
	ClientCode string
	Tags       []string // Matches documents carrying any of these tags
}

// HybridQuery scores every eligible chunk by vector and lexical similarity
type HybridQuery struct {
	Vector       []float32
	Text         string
	VectorWeight float64
	TextWeight   float64
	Limit        int
	Filters      *SearchFilters
}

// HybridResult is one scored chunk with the document fields needed for a citation
type HybridResult struct {
	ChunkID     int64
	DocumentID  string
	Filename    string
	Content     string
	PageStart   int
	PageEnd     int
	VectorScore float64
	TextScore   float64
	Score       float64
}

// Extraction is the stored output of field extraction for one document
type Extraction struct {
	ID           string
	DocumentID   string
	DocumentType string
	Provider     string
	Model        string
	Content      string
	CreatedAt    time.Time
}

// SyncStats feeds the sync-status report
type SyncStats struct {
	PendingApproval     int
	Processing          int
	FailedToday         int
	FilesDetectedToday  int
	FilesProcessedToday int
}
