package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lecpa/docsync/internal/metrics"
	"github.com/lecpa/docsync/internal/parser"
	"github.com/lecpa/docsync/internal/scanner"
	"github.com/lecpa/docsync/internal/syncclient"
	"github.com/lecpa/docsync/internal/watcher"
)

var (
	watchInitialScan bool
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the NAS root and report changes until interrupted",
	Long: `Watches the configured NAS root for file changes. Events for the same
path within the debounce window collapse into one report. A heartbeat is sent
on the configured interval. On SIGINT or SIGTERM pending events are flushed
before exit.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchInitialScan, "initial-scan", false, "run a full scan before watching")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	p, err := parser.New(cfg)
	if err != nil {
		return err
	}
	rec := metrics.NewRecorder("agent")
	client := syncclient.New(cfg.API, syncclient.WithLogger(logger), syncclient.WithMetrics(rec))
	defer client.Close()

	ctx, stop := signalContext()
	defer stop()

	if watchInitialScan {
		s := scanner.New(p, client, scanner.WithLogger(logger), scanner.WithMetrics(rec))
		res, err := s.Scan(ctx, scanner.Options{})
		if err != nil {
			return fmt.Errorf("initial scan failed: %w", err)
		}
		cmd.Printf("Initial scan: %d scanned, %d queued, %d skipped, %d failed\n",
			res.Scanned, res.Queued, res.Skipped, res.Failed)
	}

	w := watcher.New(cfg, p, client, watcher.WithLogger(logger), watcher.WithMetrics(rec))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.RunHeartbeat(ctx, client, cfg.HeartbeatInterval(), logger)
		return nil
	})
	g.Go(func() error {
		return w.Run(ctx)
	})
	if watchMetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, watchMetricsAddr, logger)
		})
	}

	logger.Info("agent started", zap.String("version", version), zap.String("api", cfg.API.BaseURL))
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
