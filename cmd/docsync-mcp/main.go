package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/app"
	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/ingest"
	"github.com/lecpa/docsync/internal/logging"
	"github.com/lecpa/docsync/internal/mcp"
	"github.com/lecpa/docsync/internal/storage"
)

const serviceName = "docsync-mcp"

var (
	version   = "dev"
	buildTime = "unknown"
)

// errReadOnly is returned if anything asks the MCP process to process a document
var errReadOnly = errors.New("docsync-mcp does not process documents")

type readOnly struct{}

func (readOnly) Enqueue(context.Context, string) error { return errReadOnly }

func main() {
	configPath := flag.String("config", os.Getenv("DOCSYNC_CONFIG"), "path to config.toml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("docsync MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout is reserved for the MCP protocol; logging writes to stderr
	logger, err := logging.New(logging.FromConfig(cfg.Logging, serviceName))
	if err != nil {
		logger = logging.NewDefault(serviceName)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.Open(ctx, cfg, logger, "mcp")
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer func() { _ = core.Close() }()

	svc := ingest.NewService(cfg, core.Store, readOnly{}, core.Blobs,
		ingest.WithLogger(logger),
		ingest.WithMetrics(core.Metrics),
		ingest.WithCacheInvalidator(core.Searcher))
	server := mcp.NewServer(core.Searcher, svc, core.Store, mcp.WithLogger(logger))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			_ = core.Close()
			os.Exit(1)
		}
	}

	logger.Info("server stopped")
}
