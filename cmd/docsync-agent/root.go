package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/internal/logging"
)

const serviceName = "docsync-agent"

var (
	version   = "dev"
	buildTime = "unknown"

	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Watch the NAS and sync client documents to docsync",
	Long: `docsync-agent runs next to the NAS. It watches the client file tree,
debounces changes and reports new, modified and deleted files to the
docsync ingestion API. It also performs full scans and sends the daily digest.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("DOCSYNC_CONFIG"),
		"path to config.toml (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func newLogger(cfg *config.Config) *zap.Logger {
	lc := logging.FromConfig(cfg.Logging, serviceName)
	if verbose {
		lc.Level = "debug"
	}
	logger, err := logging.New(lc)
	if err != nil {
		return logging.NewDefault(serviceName)
	}
	return logger
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
