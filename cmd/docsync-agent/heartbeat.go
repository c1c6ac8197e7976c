package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lecpa/docsync/internal/syncclient"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Send one heartbeat and print the server's sync status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		defer func() { _ = logger.Sync() }()

		client := syncclient.New(cfg.API, syncclient.WithLogger(logger))
		defer client.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := client.Heartbeat(ctx); err != nil {
			return fmt.Errorf("heartbeat failed: %w", err)
		}
		status, err := client.SyncStatus(ctx)
		if err != nil {
			return fmt.Errorf("sync status failed: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

func init() {
	rootCmd.AddCommand(heartbeatCmd)
}
