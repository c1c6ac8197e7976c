package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lecpa/docsync/internal/digest"
	"github.com/lecpa/docsync/internal/syncclient"
)

var (
	digestSend bool
	digestHTML bool
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Render the daily sync digest, and optionally email it",
	Long: `Fetches today's sync status from the API and renders the daily digest.
Without --send the plain-text body is printed. With --send the digest is
emailed to the configured recipients over SMTP with STARTTLS.`,
	RunE: runDigest,
}

func init() {
	digestCmd.Flags().BoolVar(&digestSend, "send", false, "email the digest to the configured recipients")
	digestCmd.Flags().BoolVar(&digestHTML, "html", false, "print the HTML body instead of plain text")
	rootCmd.AddCommand(digestCmd)
}

func runDigest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	client := syncclient.New(cfg.API, syncclient.WithLogger(logger))
	defer client.Close()
	sender := digest.NewSender(cfg.Digest, client, digest.WithLogger(logger))

	ctx, stop := signalContext()
	defer stop()

	if !digestSend {
		msg, err := sender.Build(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("Subject: %s\n\n", msg.Subject)
		if digestHTML {
			cmd.Print(msg.HTML)
		} else {
			cmd.Print(msg.Text)
		}
		return nil
	}

	msg, err := sender.Send(ctx)
	switch {
	case errors.Is(err, digest.ErrDisabled), errors.Is(err, digest.ErrNoRecipients):
		cmd.Printf("Digest not sent: %v\n", err)
		return nil
	case err != nil:
		return err
	}
	cmd.Printf("Sent %q to %d recipients\n", msg.Subject, len(cfg.Digest.Recipients))
	return nil
}
