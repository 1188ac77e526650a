// Package backend picks the scheduling and messaging implementation for each
// integration path: direct provider clients, MCP tool servers, or a stand-in
// that reports the configuration problem.
package backend

import (
	"log/slog"
	"net/http"

	"github.com/soypete/voicebridge/pkg/calcom"
	"github.com/soypete/voicebridge/pkg/config"
	"github.com/soypete/voicebridge/pkg/graph"
	"github.com/soypete/voicebridge/pkg/mcp"
	"github.com/soypete/voicebridge/pkg/messaging"
	"github.com/soypete/voicebridge/pkg/scheduling"
	"github.com/soypete/voicebridge/pkg/tokens"
)

// Set holds one backend per path
type Set struct {
	Scheduling scheduling.Backend
	Messaging  messaging.Backend
}

// Deps are the shared resources backends are built from
type Deps struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New builds the backends for cfg. A path whose configuration is incomplete
// gets an Unavailable backend and an error log line instead of stopping the
// process.
func New(cfg *config.Config, deps Deps) Set {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = cfg.HTTP.NewHTTPClient()
	}

	var set Set

	if err := cfg.SchedulingReady(); err != nil {
		deps.Logger.Error("scheduling path disabled", "mode", cfg.Integration.Mode, "error", err)
		set.Scheduling = Unavailable{Reason: err.Error()}
	} else if cfg.Integration.Mode == config.ModeMCP {
		set.Scheduling = NewMCPScheduling(mcp.NewClient(cfg.CalCom.MCPServerURL, deps.HTTPClient), deps.Logger)
	} else {
		set.Scheduling = NewCalCom(cfg, deps)
	}

	if err := cfg.MessagingReady(); err != nil {
		deps.Logger.Error("messaging path disabled", "mode", cfg.Integration.Mode, "error", err)
		set.Messaging = Unavailable{Reason: err.Error()}
	} else if cfg.Integration.Mode == config.ModeMCP {
		set.Messaging = NewMCPMessaging(mcp.NewClient(cfg.Graph.MCPServerURL, deps.HTTPClient), deps.Logger)
	} else {
		set.Messaging = NewGraph(cfg, deps)
	}

	deps.Logger.Info("backends ready",
		"mode", cfg.Integration.Mode,
		"scheduling", set.Scheduling.Name(),
		"messaging", set.Messaging.Name())

	return set
}

// NewCalCom builds the direct Cal.com client
func NewCalCom(cfg *config.Config, deps Deps) *calcom.Client {
	return calcom.NewClient(calcom.Options{
		APIKey:     cfg.CalCom.APIKey,
		BaseURL:    cfg.CalCom.BaseURL,
		APIVersion: cfg.CalCom.APIVersion,
		HTTPClient: deps.HTTPClient,
		Logger:     deps.Logger,
	})
}

// NewGraph builds the direct Graph mail client with its token cache
func NewGraph(cfg *config.Config, deps Deps) *graph.Client {
	source := tokens.NewClientCredentialsSource(
		cfg.Graph.TenantID,
		cfg.Graph.ClientID,
		cfg.Graph.ClientSecret,
		cfg.Graph.TokenURL,
		deps.HTTPClient,
	)
	return graph.NewClient(graph.Options{
		SenderUPN:  cfg.Graph.SenderUPN,
		BaseURL:    cfg.Graph.BaseURL,
		Tokens:     tokens.NewCache(source),
		HTTPClient: deps.HTTPClient,
		Formatter:  messaging.HTMLFormatter{Signature: cfg.Graph.Signature},
		Logger:     deps.Logger,
	})
}
