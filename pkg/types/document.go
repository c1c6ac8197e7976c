package types

import "time"

// ProcessingStatus is the per-document pipeline state
type ProcessingStatus string

const (
	StatusPending        ProcessingStatus = "pending"
	StatusExtracting     ProcessingStatus = "extracting"
	StatusOCR            ProcessingStatus = "ocr"
	StatusCanonicalizing ProcessingStatus = "canonicalizing"
	StatusChunking       ProcessingStatus = "chunking"
	StatusEmbedding      ProcessingStatus = "embedding"
	StatusReady          ProcessingStatus = "ready"
	StatusFailed         ProcessingStatus = "failed"
)

// statusOrder gives the forward position of each non-failed status
var statusOrder = map[ProcessingStatus]int{
	StatusPending:        0,
	StatusExtracting:     1,
	StatusOCR:            2,
	StatusCanonicalizing: 3,
	StatusChunking:       4,
	StatusEmbedding:      5,
	StatusReady:          6,
}

// IsTerminal reports whether no further transition happens without a re-index
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// IsProcessing reports whether a document is queued or mid-pipeline
func (s ProcessingStatus) IsProcessing() bool {
	return !s.IsTerminal()
}

// Valid reports whether s is a known status
func (s ProcessingStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal step.
// The machine only moves forward; failed is reachable from any non-terminal state
// and pending is reachable from anywhere (re-index).
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	if next == StatusPending {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	return ok && to > from
}

// Document is a file admitted into the pipeline
type Document struct {
	ID               string
	CaseID           string
	Filename         string
	OriginalFilename string
	StorageKey       string
	MimeType         string
	FileSize         int64
	PageCount        *int
	FileHash         string // hex sha256 without prefix
	Status           ProcessingStatus
	ProcessingError  string
	IsOCR            bool
	EmbeddingModel   string
	EmbeddingDim     int
	Tags             []string
	IsPermanent      bool
	FolderTag        string
	NASRelativePath  string
	SourcePath       string // full NAS path, empty for direct uploads
	DeletedAt        *time.Time
	RetentionUntil   *time.Time
	LastSeenAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Page is one page of extracted text, numbered from 1
type Page struct {
	Number int
	Text   string
}

// Chunk is a page-bounded slice of a document's canonical text
type Chunk struct {
	ID             int64
	DocumentID     string
	ChunkIndex     int
	Content        string
	PageStart      int
	PageEnd        int
	TokenCount     int
	SectionHeader  string
	IsOCR          bool
	Embedding      []float32
	EmbeddingModel string
	CreatedAt      time.Time
}

// Validate checks the page range and content of a chunk
func (c *Chunk) Validate() error {
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.PageStart < 1 || c.PageStart > c.PageEnd {
		return ErrInvalidPageRange
	}
	return nil
}
