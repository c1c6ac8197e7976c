package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lecpa/docsync/internal/api"
	"github.com/lecpa/docsync/internal/app"
	"github.com/lecpa/docsync/internal/blobstore"
	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/fields"
	"github.com/lecpa/docsync/internal/ingest"
	"github.com/lecpa/docsync/internal/llm"
	"github.com/lecpa/docsync/internal/logging"
	"github.com/lecpa/docsync/internal/pipeline"
	"github.com/lecpa/docsync/internal/storage"
)

const (
	serviceName     = "docsync-server"
	shutdownTimeout = 30 * time.Second
)

var (
	version   = "dev"
	buildTime = "unknown"

	configPath   string
	reindexStale bool
)

var rootCmd = &cobra.Command{
	Use:          serviceName,
	Short:        "Run the docsync ingestion API and document pipeline",
	SilenceUsage: true,
	Version:      version,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("DOCSYNC_CONFIG"),
		"path to config.toml (defaults apply when empty)")
	rootCmd.Flags().BoolVar(&reindexStale, "reindex-stale", false,
		"re-queue documents embedded with a different model on startup")
	rootCmd.SetVersionTemplate(fmt.Sprintf("docsync-server version {{.Version}} (built %s, sqlite driver %s)\n",
		buildTime, storage.DriverName))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.FromConfig(cfg.Logging, serviceName))
	if err != nil {
		logger = logging.NewDefault(serviceName)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.Open(ctx, cfg, logger, "server")
	if err != nil {
		return err
	}
	defer func() { _ = core.Close() }()

	router, err := llm.NewRouterFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize model router: %w", err)
	}
	defer func() { _ = router.Close() }()

	// NAS documents are stored under their absolute source path
	nas, err := blobstore.NewLocal("/")
	if err != nil {
		return err
	}

	pool := pipeline.NewPool(cfg.Pipeline, logger, core.Metrics)
	pool.Start(ctx)
	defer pool.Stop()

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(core.Metrics),
		pipeline.WithCacheInvalidator(core.Searcher),
		pipeline.WithNASStore(nas),
	}
	if router.Available(fields.Task) {
		opts = append(opts, pipeline.WithFieldExtractor(fields.NewExtractor(core.Store, router, logger)))
	} else {
		logger.Warn("field extraction disabled: no provider configured for route", zap.String("task", fields.Task))
	}
	orch := pipeline.New(cfg, core.Store, core.Blobs, core.Embedder, pool, opts...)

	svc := ingest.NewService(cfg, core.Store, orch, core.Blobs,
		ingest.WithLogger(logger),
		ingest.WithMetrics(core.Metrics),
		ingest.WithCacheInvalidator(core.Searcher))

	if reindexStale {
		res, err := svc.ReindexStale(ctx, core.Embedder.Model())
		if err != nil {
			return fmt.Errorf("failed to re-queue stale documents: %w", err)
		}
		logger.Info("re-queued stale documents", zap.Int("count", res.Queued))
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(svc, core.Searcher, core.Store,
		api.WithLogger(logger),
		api.WithMetrics(core.Metrics),
		api.WithAPIKey(cfg.Server.APIKey))
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.RunSweeper(gctx, time.Duration(cfg.Ingest.SweepIntervalSeconds)*time.Second)
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
