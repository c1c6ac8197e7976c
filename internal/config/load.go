package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidConfig is returned when validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads the TOML file at path on top of the defaults.
// A .env file next to the config (or in the working directory) is loaded first
// so ${VAR} references can resolve. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays data onto cfg. Lists and tables present in the file replace
// the defaults instead of being merged into them.
func decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if _, ok := raw["client_patterns"]; ok {
		cfg.ClientPatterns = nil
	}
	if _, ok := raw["special_folders"]; ok {
		cfg.SpecialFolders = nil
	}
	if _, ok := raw["skip_patterns"]; ok {
		cfg.SkipPatterns = nil
	}
	if _, ok := raw["document_tags"]; ok {
		cfg.DocumentTags = nil
	}
	if digest, ok := raw["digest"].(map[string]any); ok {
		if _, ok := digest["recipients"]; ok {
			cfg.Digest.Recipients = nil
		}
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			// Existing environment wins over .env values
			_ = godotenv.Load(p)
			return
		}
	}
}

// expandEnv resolves ${VAR} references in secret and endpoint fields
func (c *Config) expandEnv() {
	for _, s := range []*string{
		&c.NAS.RootPath,
		&c.API.BaseURL,
		&c.API.APIKey,
		&c.Server.APIKey,
		&c.Database.Path,
		&c.Database.DSN,
		&c.Storage.LocalPath,
		&c.Storage.S3Bucket,
		&c.Storage.AccessKeyID,
		&c.Storage.SecretAccessKey,
		&c.Digest.SMTPHost,
		&c.Digest.SMTPUser,
		&c.Digest.SMTPPassword,
		&c.Embedding.APIKey,
		&c.Embedding.BaseURL,
	} {
		*s = os.ExpandEnv(*s)
	}
}

// Validate checks that patterns compile and numeric settings are usable
func (c *Config) Validate() error {
	var problems []string

	if c.NAS.RootPath == "" {
		problems = append(problems, "nas.root_path is required")
	}
	if c.NAS.DebounceSeconds < 0 {
		problems = append(problems, "nas.debounce_seconds must be >= 0")
	}
	if len(c.ClientPatterns) == 0 {
		problems = append(problems, "at least one client pattern is required")
	}
	for i, p := range c.ClientPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			problems = append(problems, fmt.Sprintf("client_patterns[%d]: %v", i, err))
			continue
		}
		if re.SubexpIndex("code") < 0 || re.SubexpIndex("name") < 0 {
			problems = append(problems, fmt.Sprintf("client_patterns[%d]: needs code and name groups", i))
		}
		if p.Type != "individual" && p.Type != "business" {
			problems = append(problems, fmt.Sprintf("client_patterns[%d]: unknown type %q", i, p.Type))
		}
	}
	if re, err := regexp.Compile(c.YearPattern); err != nil {
		problems = append(problems, fmt.Sprintf("year_pattern: %v", err))
	} else if re.SubexpIndex("year") < 0 {
		problems = append(problems, "year_pattern: needs a year group")
	}
	for i, r := range c.DocumentTags {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			problems = append(problems, fmt.Sprintf("document_tags[%d]: %v", i, err))
		}
	}
	if c.Search.VectorWeight < 0 || c.Search.VectorWeight > 1 {
		problems = append(problems, "search.vector_weight must be in [0,1]")
	}
	if c.Search.FTSWeight < 0 || c.Search.FTSWeight > 1 {
		problems = append(problems, "search.fts_weight must be in [0,1]")
	}
	if c.Chunking.TargetTokens <= 0 || c.Chunking.CharsPerToken <= 0 {
		problems = append(problems, "chunking.target_tokens and chunking.chars_per_token must be positive")
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		problems = append(problems, "chunking.overlap_tokens must be in [0, target_tokens)")
	}
	switch c.Embedding.Provider {
	case "tei", "openai", "jina", "local":
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		problems = append(problems, "embedding.dimension must be positive")
	}
	if c.Ingest.AutoApproveHours < 0 {
		problems = append(problems, "ingest.auto_approve_hours must be >= 0")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver: unknown driver %q", c.Database.Driver))
	}
	switch c.Storage.Type {
	case "local", "s3":
	default:
		problems = append(problems, fmt.Sprintf("storage.type: unknown type %q", c.Storage.Type))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Write serializes cfg as TOML to path
func Write(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Debounce is the watcher's quiet window
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.NAS.DebounceSeconds * float64(time.Second))
}

// HeartbeatInterval is how often the agent reports liveness
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.NAS.HeartbeatIntervalSeconds) * time.Second
}

// APITimeout bounds one request to the ingestion boundary
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// AutoApproveDelay is how long a queue item waits for a human decision
func (c *Config) AutoApproveDelay() time.Duration {
	return time.Duration(c.Ingest.AutoApproveHours * float64(time.Hour))
}

// RetentionWindow is how long soft-deleted documents are kept
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Ingest.SoftDeleteRetentionDays) * 24 * time.Hour
}
