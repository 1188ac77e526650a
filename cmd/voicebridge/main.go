// voicebridge receives voice agent webhooks and turns them into Cal.com
// bookings and Outlook emails, either directly or through MCP tool servers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/soypete/voicebridge/pkg/config"
	"github.com/soypete/voicebridge/pkg/logging"
)

const version = "0.1.0"

var (
	// Global flags
	configFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voicebridge",
		Short: "Webhook bridge from voice agents to Cal.com and Microsoft Graph",
		Long: `voicebridge accepts scheduling and email webhooks from a voice agent.

Bookings are created in Cal.com and emails are sent through Microsoft Graph,
either by calling the APIs directly or through the MCP tool servers started
with "voicebridge mcp-server".`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: voicebridge.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpServerCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// loadConfig loads the config file named by --config, or the default search path
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// setup loads the config and builds the process logger
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}
	return cfg, logger, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the voicebridge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voicebridge %s\n", version)
		},
	}
}
