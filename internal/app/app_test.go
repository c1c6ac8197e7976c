package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/searcher"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "docsync.db")
	cfg.Storage.LocalPath = t.TempDir()
	cfg.Embedding.Provider = "local"
	return cfg
}

func TestOpen(t *testing.T) {
	core, err := Open(context.Background(), testConfig(t), zap.NewNop(), "test")
	require.NoError(t, err)
	defer core.Close()

	assert.NotNil(t, core.Store)
	assert.NotNil(t, core.Blobs)
	assert.Equal(t, 384, core.Embedder.Dimension())

	resp, err := core.Searcher.Search(context.Background(), searcher.SearchRequest{Query: "w-2 wages"})
	require.NoError(t, err)
	assert.Zero(t, resp.TotalResults)
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "mysql" }, "unknown database driver"},
		{"postgres without dsn", func(c *config.Config) { c.Database.Driver = "postgres" }, "database.dsn is required"},
		{"s3 without bucket", func(c *config.Config) { c.Storage.Type = "s3" }, "s3_bucket is required"},
		{"tei without url", func(c *config.Config) {
			c.Embedding.Provider = "tei"
			c.Embedding.BaseURL = ""
		}, "failed to initialize embedder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := Open(context.Background(), cfg, zap.NewNop(), "test")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
