// Package config loads docsync configuration from a TOML file.
//
// Defaults mirror the firm's filing convention: client folders named
// "1xxx_Name" (individuals) and "2xxx_Name" (businesses), year folders "20xx",
// and a fixed table of special folders. A file only needs to override what differs.
package config

// Config is the complete configuration shared by the agent, server and MCP binaries
type Config struct {
	NAS            NASConfig                `toml:"nas"`
	API            APIConfig                `toml:"api"`
	ClientPatterns []ClientPattern          `toml:"client_patterns"`
	YearPattern    string                   `toml:"year_pattern"`
	SpecialFolders map[string]SpecialFolder `toml:"special_folders"`
	SkipPatterns   []string                 `toml:"skip_patterns"`
	DocumentTags   []TagRule                `toml:"document_tags"`
	Digest         DigestConfig             `toml:"digest"`
	Logging        LoggingConfig            `toml:"logging"`
	Server         ServerConfig             `toml:"server"`
	Database       DatabaseConfig           `toml:"database"`
	Storage        StorageConfig            `toml:"storage"`
	Pipeline       PipelineConfig           `toml:"pipeline"`
	OCR            OCRConfig                `toml:"ocr"`
	Chunking       ChunkingConfig           `toml:"chunking"`
	Embedding      EmbeddingConfig          `toml:"embedding"`
	Search         SearchConfig             `toml:"search"`
	LLM            LLMConfig                `toml:"llm"`
	Ingest         IngestConfig             `toml:"ingest"`
}

// NASConfig describes the watched volume
type NASConfig struct {
	RootPath                 string  `toml:"root_path"`
	WatchRecursive           bool    `toml:"watch_recursive"`
	DebounceSeconds          float64 `toml:"debounce_seconds"`
	HeartbeatIntervalSeconds int     `toml:"heartbeat_interval_seconds"`
}

// APIConfig is the agent's view of the ingestion boundary
type APIConfig struct {
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RetryAttempts     int     `toml:"retry_attempts"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ClientPattern maps a folder-name regex with code and name groups to a client type
type ClientPattern struct {
	Pattern string `toml:"pattern"`
	Type    string `toml:"type"`
}

// SpecialFolder is the tag assigned to a named sub-folder of a client
type SpecialFolder struct {
	Tag       string `toml:"tag"`
	Permanent bool   `toml:"permanent"`
}

// TagRule detects a document tag from a filename
type TagRule struct {
	Pattern string `toml:"pattern"`
	Tag     string `toml:"tag"`
}

// DigestConfig controls the daily summary email
type DigestConfig struct {
	Enabled      bool     `toml:"enabled"`
	SendTime     string   `toml:"send_time"`
	Recipients   []string `toml:"recipients"`
	SMTPHost     string   `toml:"smtp_host"`
	SMTPPort     int      `toml:"smtp_port"`
	SMTPUser     string   `toml:"smtp_user"`
	SMTPPassword string   `toml:"smtp_password"`
	FromAddress  string   `toml:"from_address"`
}

// LoggingConfig selects zap level and encoding
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	OutputPath string `toml:"output_path"`
}

// ServerConfig is the HTTP listener of docsync-server
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	APIKey     string `toml:"api_key"`
}

// DatabaseConfig selects the storage backend
type DatabaseConfig struct {
	Driver string `toml:"driver"` // sqlite or postgres
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// StorageConfig selects where document bytes live
type StorageConfig struct {
	Type            string `toml:"type"` // local or s3
	LocalPath       string `toml:"local_path"`
	S3Bucket        string `toml:"s3_bucket"`
	S3Region        string `toml:"s3_region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// PipelineConfig sizes the worker lanes and task limits
type PipelineConfig struct {
	TaskTimeLimitSeconds int            `toml:"task_time_limit_seconds"`
	SoftTimeLimitSeconds int            `toml:"soft_time_limit_seconds"`
	LaneWorkers          map[string]int `toml:"lane_workers"`
	LaneBuffer           int            `toml:"lane_buffer"`
	TempDir              string         `toml:"temp_dir"`
}

// OCRConfig controls when and how OCR runs
type OCRConfig struct {
	Enabled         bool    `toml:"enabled"`
	Mode            string  `toml:"mode"` // fallback_only or always
	MinCharsPerPage float64 `toml:"min_chars_per_page"`
	MinTextRatio    float64 `toml:"min_text_ratio"`
	Language        string  `toml:"language"`
	PSM             int     `toml:"psm"`
	OEM             int     `toml:"oem"`
	DPI             int     `toml:"dpi"`
	Grayscale       bool    `toml:"grayscale"`
	Threshold       int     `toml:"threshold"`
	MinConfidence   float64 `toml:"min_confidence"`
}

// ChunkingConfig sizes the sliding window
type ChunkingConfig struct {
	TargetTokens  int `toml:"target_tokens"`
	OverlapTokens int `toml:"overlap_tokens"`
	CharsPerToken int `toml:"chars_per_token"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider  string `toml:"provider"` // tei, openai, jina or local
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url"`
	Dimension int    `toml:"dimension"`
	BatchSize int    `toml:"batch_size"`
	Normalize bool   `toml:"normalize"`
	APIKey    string `toml:"api_key"`
	CacheSize int    `toml:"cache_size"`
}

// SearchConfig holds hybrid ranking defaults
type SearchConfig struct {
	VectorWeight float64 `toml:"vector_weight"`
	FTSWeight    float64 `toml:"fts_weight"`
	TopK         int     `toml:"top_k"`
}

// LLMConfig is the model routing table
type LLMConfig struct {
	DefaultProvider string                       `toml:"default_provider"`
	DefaultModel    string                       `toml:"default_model"`
	Providers       map[string]LLMProviderConfig `toml:"providers"`
	Routes          map[string]LLMRoute          `toml:"routes"`
}

// LLMProviderConfig describes one backend
type LLMProviderConfig struct {
	APIKeyEnv      string `toml:"api_key_env"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// LLMRoute binds a task name to a provider and model
type LLMRoute struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
}

// IngestConfig holds approval and retention windows
type IngestConfig struct {
	AutoApproveHours        float64 `toml:"auto_approve_hours"`
	SoftDeleteRetentionDays int     `toml:"soft_delete_retention_days"`
	SweepIntervalSeconds    int     `toml:"sweep_interval_seconds"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		NAS: NASConfig{
			RootPath:                 "/volume1/LeCPA/ClientFiles",
			WatchRecursive:           true,
			DebounceSeconds:          2.0,
			HeartbeatIntervalSeconds: 60,
		},
		API: APIConfig{
			BaseURL:           "http://lecpa-api:8000",
			APIKey:            "${SYNC_AGENT_API_KEY}",
			TimeoutSeconds:    30,
			RetryAttempts:     3,
			RequestsPerSecond: 20,
		},
		ClientPatterns: []ClientPattern{
			{Pattern: `^(?P<code>1\d{3})_(?P<name>.+)$`, Type: "individual"},
			{Pattern: `^(?P<code>2\d{3})_(?P<name>.+)$`, Type: "business"},
		},
		YearPattern: `^(?P<year>20\d{2})$`,
		SpecialFolders: map[string]SpecialFolder{
			"Permanent":      {Tag: "permanent", Permanent: true},
			"Tax Notice":     {Tag: "tax_notice"},
			"Tax Transcript": {Tag: "transcript"},
			"Tax Emails":     {Tag: "emails"},
			"Paperworks":     {Tag: "paperwork"},
			"Invoice":        {Tag: "invoice"},
			"IRS Notices":    {Tag: "irs_notice"},
		},
		SkipPatterns: []string{
			"*.7z", "*.zip", "*.rar", "*.lnk", ".DS_Store", "Thumbs.db", "Icon*", "*.tmp", "~$*",
		},
		DocumentTags: []TagRule{
			{Pattern: `(?i)w-?2`, Tag: "W2"},
			{Pattern: `(?i)1099`, Tag: "1099"},
			{Pattern: `(?i)k-?1|k1p|k1s`, Tag: "K1"},
			{Pattern: `(?i)1098`, Tag: "1098"},
			{Pattern: `(?i)notice|cp\s?\d+|lt\s?\d+`, Tag: "IRS_NOTICE"},
			{Pattern: `(?i)transcript`, Tag: "TRANSCRIPT"},
		},
		Digest: DigestConfig{
			Enabled:     true,
			SendTime:    "08:00",
			SMTPPort:    587,
			FromAddress: "nas-sync@localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			ListenAddr: ":8000",
			APIKey:     "${SYNC_AGENT_API_KEY}",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "docsync.db",
		},
		Storage: StorageConfig{
			Type:      "local",
			LocalPath: "/",
			S3Region:  "us-east-1",
		},
		Pipeline: PipelineConfig{
			TaskTimeLimitSeconds: 600,
			SoftTimeLimitSeconds: 540,
			LaneWorkers: map[string]int{
				"ingest":           2,
				"extract":          2,
				"ocr":              1,
				"embed":            1,
				"field_extraction": 1,
			},
			LaneBuffer: 256,
		},
		OCR: OCRConfig{
			Enabled:         true,
			Mode:            "fallback_only",
			MinCharsPerPage: 200,
			MinTextRatio:    0.001,
			Language:        "eng",
			PSM:             6,
			OEM:             1,
			DPI:             300,
			Grayscale:       true,
			Threshold:       128,
			MinConfidence:   30,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  1000,
			OverlapTokens: 100,
			CharsPerToken: 4,
		},
		Embedding: EmbeddingConfig{
			Provider:  "tei",
			Model:     "BAAI/bge-small-en-v1.5",
			BaseURL:   "http://lecpa-embeddings:8080",
			Dimension: 384,
			BatchSize: 32,
			Normalize: true,
			CacheSize: 10000,
		},
		Search: SearchConfig{
			VectorWeight: 0.7,
			FTSWeight:    0.3,
			TopK:         10,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			DefaultModel:    "claude-opus-4-5-20251101",
			Providers: map[string]LLMProviderConfig{
				"anthropic": {APIKeyEnv: "ANTHROPIC_API_KEY", TimeoutSeconds: 120, MaxRetries: 3},
				"gemini":    {APIKeyEnv: "GEMINI_API_KEY", TimeoutSeconds: 120, MaxRetries: 3},
			},
			Routes: map[string]LLMRoute{
				"extraction": {Provider: "anthropic", Model: "claude-opus-4-5-20251101", MaxTokens: 4096, Temperature: 0.3},
			},
		},
		Ingest: IngestConfig{
			AutoApproveHours:        4,
			SoftDeleteRetentionDays: 90,
			SweepIntervalSeconds:    60,
		},
	}
}
