package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soypete/voicebridge/pkg/backend"
	"github.com/soypete/voicebridge/pkg/events"
	"github.com/soypete/voicebridge/pkg/httpbridge"
)

var (
	// Serve command flags
	serveAddr string
	serveMode string
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server",
		Long: `Run the webhook HTTP server.

Examples:
  # Call Cal.com and Graph directly
  voicebridge serve

  # Route through the MCP tool servers
  voicebridge serve --mode mcp`,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default :PORT from config)")
	cmd.Flags().StringVar(&serveMode, "mode", "", "Integration mode: direct or mcp (overrides INTEGRATION_MODE)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	// The mode override goes through the environment so config defaults
	// for the chosen mode are applied during load.
	if serveMode != "" {
		if err := os.Setenv("INTEGRATION_MODE", serveMode); err != nil {
			return err
		}
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends := backend.New(cfg, backend.Deps{
		HTTPClient: cfg.HTTP.NewHTTPClient(),
		Logger:     logger,
	})

	publisher := events.Connect(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close event publisher", "error", err)
		}
	}()

	server, err := httpbridge.NewServer(httpbridge.Options{
		Config:    cfg,
		Backends:  backends,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	addr := cfg.Addr()
	if serveAddr != "" {
		addr = serveAddr
	}
	return server.Run(ctx, addr)
}
