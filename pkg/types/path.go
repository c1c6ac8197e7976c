package types

import "time"

// ClientType distinguishes individual and business taxpayers
type ClientType string

const (
	ClientIndividual ClientType = "individual"
	ClientBusiness   ClientType = "business"
)

// ParsedPath is the structured metadata derived from a NAS path.
// It is produced fresh by every parse call and never mutated afterwards.
type ParsedPath struct {
	ClientCode   string     `json:"client_code,omitempty"`
	ClientName   string     `json:"client_name,omitempty"`
	ClientType   ClientType `json:"client_type,omitempty"`
	Year         *int       `json:"year,omitempty"`
	FolderTag    string     `json:"folder_tag,omitempty"`
	IsPermanent  bool       `json:"is_permanent"`
	RelativePath string     `json:"relative_path,omitempty"`
	DetectedTags []string   `json:"detected_tags"`
	IsValid      bool       `json:"is_valid"`
	SkipReason   string     `json:"skip_reason,omitempty"`
}

// HasYear reports whether a year folder was recognised
func (p ParsedPath) HasYear() bool {
	return p.Year != nil
}

// FileEvent is a normalized file notification produced by the watcher or scanner
type FileEvent struct {
	Path         string
	Size         int64
	ContentHash  string // "sha256:<hex>"
	ModifiedTime time.Time
	Parsed       ParsedPath
}

// EventType is the kind of filesystem change observed for a path
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)
