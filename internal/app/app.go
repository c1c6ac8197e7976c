// Package app assembles the server-side components shared by docsync-server
// and docsync-mcp: storage, the upload blob store, the embedder and the searcher.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/blobstore"
	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/embedder"
	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/internal/searcher"
	"github.com/lecpa/docsync/internal/storage"
	"github.com/lecpa/docsync/internal/storage/postgres"
)

// Core holds the components every server binary needs
type Core struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Recorder
	Store    storage.Storage
	Blobs    blobstore.Store
	Embedder embedder.Embedder
	Searcher *searcher.Searcher
}

// OpenStorage opens the configured database backend
func OpenStorage(ctx context.Context, cfg config.DatabaseConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return storage.NewSQLiteStorage(cfg.Path)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("database.dsn is required for postgres")
		}
		return postgres.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

// Open builds the core components. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, component string) (*Core, error) {
	c := &Core{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewRecorder(component),
	}

	store, err := OpenStorage(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Store = store

	blobs, err := blobstore.New(cfg.Storage)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	c.Blobs = blobs

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = emb

	c.Searcher = searcher.NewSearcher(store, emb, cfg.Search,
		searcher.WithLogger(logger),
		searcher.WithMetrics(c.Metrics))

	logger.Info("core components ready",
		zap.String("database", cfg.Database.Driver),
		zap.String("blob_storage", cfg.Storage.Type),
		zap.String("embedding_provider", emb.Provider()),
		zap.String("embedding_model", emb.Model()),
		zap.Int("embedding_dim", emb.Dimension()))
	return c, nil
}

// Close releases the embedder and the database
func (c *Core) Close() error {
	var errs []error
	if c.Embedder != nil {
		errs = append(errs, c.Embedder.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
