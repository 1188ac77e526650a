package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soypete/voicebridge/pkg/backend"
	"github.com/soypete/voicebridge/pkg/config"
	"github.com/soypete/voicebridge/pkg/mcp"
	"github.com/soypete/voicebridge/pkg/tools"
)

const (
	toolCalCom  = "calcom"
	toolOutlook = "outlook"
)

var (
	// MCP server flags
	mcpTool        string
	mcpAddr        string
	mcpStdio       bool
	mcpCheckSender bool
)

func mcpServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run a Cal.com or Outlook MCP tool server",
		Long: `Run a Cal.com or Outlook MCP tool server.

The server speaks streamable HTTP on /mcp, or JSON-RPC over stdin/stdout
with --stdio.

Examples:
  voicebridge mcp-server --tool calcom
  voicebridge mcp-server --tool outlook --addr :9002 --check-sender`,
		RunE: runMCPServer,
	}

	cmd.Flags().StringVar(&mcpTool, "tool", "", "Tool to serve: calcom or outlook (required)")
	cmd.Flags().StringVar(&mcpAddr, "addr", "", "Listen address (default :8001 for calcom, :8002 for outlook)")
	cmd.Flags().BoolVar(&mcpStdio, "stdio", false, "Serve over stdin/stdout instead of HTTP")
	cmd.Flags().BoolVar(&mcpCheckSender, "check-sender", false, "Verify the Outlook sender mailbox at startup")
	_ = cmd.MarkFlagRequired("tool")

	return cmd
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, addr, err := buildToolServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if mcpAddr != "" {
		addr = mcpAddr
	}

	if mcpStdio {
		logger.Info("serving MCP over stdio", "tool", mcpTool)
		return server.Run(ctx)
	}
	return serveMCP(ctx, server, addr, logger)
}

// buildToolServer returns the MCP server for --tool and its default address
func buildToolServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mcp.Server, string, error) {
	deps := backend.Deps{HTTPClient: cfg.HTTP.NewHTTPClient(), Logger: logger}

	switch mcpTool {
	case toolCalCom:
		if err := cfg.CalComReady(); err != nil {
			return nil, "", err
		}
		server := mcp.NewServer("calcom-mcp-server", version, logger)
		server.RegisterTool(tools.NewCalComBookingTool(backend.NewCalCom(cfg, deps), cfg.CalCom.DurationMinutes, logger))
		return server, ":8001", nil

	case toolOutlook:
		if err := cfg.GraphReady(); err != nil {
			return nil, "", err
		}
		client := backend.NewGraph(cfg, deps)
		if mcpCheckSender {
			user, err := client.CheckSender(ctx)
			if err != nil {
				return nil, "", fmt.Errorf("sender check failed: %w", err)
			}
			logger.Info("sender mailbox verified", "upn", user.UserPrincipalName, "name", user.DisplayName)
		}
		server := mcp.NewServer("outlook-mcp-server", version, logger)
		server.RegisterTool(tools.NewOutlookEmailTool(client, logger))
		return server, ":8002", nil

	default:
		return nil, "", fmt.Errorf("unknown tool %q (expected %s or %s)", mcpTool, toolCalCom, toolOutlook)
	}
}

// serveMCP serves the streamable HTTP endpoint until ctx ends
func serveMCP(ctx context.Context, server *mcp.Server, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", server)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "tool": mcpTool})
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting MCP server", "tool", mcpTool, "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("mcp server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
