// Package config loads voicebridge settings from an optional file and the
// process environment.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Integration modes
const (
	ModeDirect = "direct"
	ModeMCP    = "mcp"
)

// Default MCP tool server endpoints used in mcp mode
const (
	DefaultCalComMCPURL  = "http://localhost:8001/mcp"
	DefaultOutlookMCPURL = "http://localhost:8002/mcp"
)

// fileNames are searched in order by LoadDefault
var fileNames = []string{"voicebridge.yaml", "voicebridge.yml", "voicebridge.json"}

// Config represents the voicebridge configuration
type Config struct {
	Integration IntegrationConfig `json:"integration" yaml:"integration"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	CalCom      CalComConfig      `json:"calcom" yaml:"calcom"`
	Graph       GraphConfig       `json:"graph" yaml:"graph"`
	Webhook     WebhookConfig     `json:"webhook" yaml:"webhook"`
	Time        TimeConfig        `json:"time" yaml:"time"`
	HTTP        HTTPClientConfig  `json:"http" yaml:"http"`
	Events      EventsConfig      `json:"events" yaml:"events"`
	Log         LogConfig         `json:"log" yaml:"log"`

	// Warnings collects non-fatal notes produced while defaulting
	Warnings []string `json:"-" yaml:"-"`
}

// IntegrationConfig selects the integration path
type IntegrationConfig struct {
	Mode string `json:"mode" yaml:"mode"` // "direct" or "mcp"
}

// ServerConfig contains listener settings
type ServerConfig struct {
	Port int `json:"port" yaml:"port"`
}

// CalComConfig contains scheduling provider settings
type CalComConfig struct {
	APIKey          string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL         string `json:"base_url" yaml:"base_url"`
	APIVersion      string `json:"api_version" yaml:"api_version"`
	EventTypeID     int    `json:"event_type_id" yaml:"event_type_id"`
	DurationMinutes int    `json:"duration_minutes" yaml:"duration_minutes"`
	MCPServerURL    string `json:"mcp_server_url,omitempty" yaml:"mcp_server_url,omitempty"`
}

// GraphConfig contains Microsoft Graph settings
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	SenderUPN    string `json:"sender_upn,omitempty" yaml:"sender_upn,omitempty"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	TokenURL     string `json:"token_url,omitempty" yaml:"token_url,omitempty"` // overrides the tenant token endpoint
	Signature    string `json:"signature,omitempty" yaml:"signature,omitempty"`
	MCPServerURL string `json:"mcp_server_url,omitempty" yaml:"mcp_server_url,omitempty"`
}

// WebhookConfig contains inbound webhook settings
type WebhookConfig struct {
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"` // empty disables signature checks
}

// TimeConfig contains time zone settings
type TimeConfig struct {
	DefaultTimezone string `json:"default_timezone" yaml:"default_timezone"`
}

// HTTPClientConfig sizes the outbound HTTP client
type HTTPClientConfig struct {
	TimeoutSeconds        int `json:"timeout_seconds" yaml:"timeout_seconds"`
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	MaxConnsPerHost       int `json:"max_conns_per_host" yaml:"max_conns_per_host"`
	MaxIdleConnsPerHost   int `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
}

// EventsConfig contains outcome event settings
type EventsConfig struct {
	AMQPURL  string `json:"amqp_url,omitempty" yaml:"amqp_url,omitempty"` // empty disables publishing
	Exchange string `json:"exchange" yaml:"exchange"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// ConfigurationError reports an integration path that cannot run
type ConfigurationError struct {
	Path    string
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s integration is missing %s", e.Path, strings.Join(e.Missing, ", "))
}

// Load loads configuration from a file, then applies environment overrides.
// An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadDefault looks for a config file in the current directory, then the
// home directory. Without one the environment alone is used.
func LoadDefault() (*Config, error) {
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}

	for _, dir := range dirs {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return Load(path)
			}
		}
	}

	return Load("")
}

func decode(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

// applyEnv overrides file values with the environment
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"INTEGRATION_MODE":          &c.Integration.Mode,
		"CAL_COM_API_KEY":           &c.CalCom.APIKey,
		"CAL_COM_API_BASE_URL":      &c.CalCom.BaseURL,
		"CAL_COM_API_VERSION":       &c.CalCom.APIVersion,
		"CAL_COM_MCP_SERVER_URL":    &c.CalCom.MCPServerURL,
		"AZURE_TENANT_ID":           &c.Graph.TenantID,
		"AZURE_CLIENT_ID":           &c.Graph.ClientID,
		"AZURE_CLIENT_SECRET":       &c.Graph.ClientSecret,
		"SENDER_UPN":                &c.Graph.SenderUPN,
		"OUTLOOK_MCP_SERVER_URL":    &c.Graph.MCPServerURL,
		"ELEVENLABS_WEBHOOK_SECRET": &c.Webhook.Secret,
		"DEFAULT_TIMEZONE":          &c.Time.DefaultTimezone,
		"AMQP_URL":                  &c.Events.AMQPURL,
		"LOG_LEVEL":                 &c.Log.Level,
		"LOG_FORMAT":                &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"PORT":                           &c.Server.Port,
		"DEFAULT_EVENT_TYPE_ID":          &c.CalCom.EventTypeID,
		"DEFAULT_EVENT_DURATION_MINUTES": &c.CalCom.DurationMinutes,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}

	return nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Integration.Mode == "" {
		c.Integration.Mode = ModeDirect
	}
	c.Integration.Mode = strings.ToLower(c.Integration.Mode)

	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}

	// Cal.com defaults
	if c.CalCom.BaseURL == "" {
		c.CalCom.BaseURL = "https://api.cal.com/v2"
	}
	if c.CalCom.APIVersion == "" {
		c.CalCom.APIVersion = "2024-08-13"
	}
	if c.CalCom.EventTypeID == 0 {
		c.CalCom.EventTypeID = 1837761
	}
	if c.CalCom.DurationMinutes == 0 {
		c.CalCom.DurationMinutes = 30
	}

	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	}

	if c.Time.DefaultTimezone == "" {
		c.Time.DefaultTimezone = "America/New_York"
	}

	// Outbound client defaults
	if c.HTTP.TimeoutSeconds == 0 {
		c.HTTP.TimeoutSeconds = 10
	}
	if c.HTTP.ConnectTimeoutSeconds == 0 {
		c.HTTP.ConnectTimeoutSeconds = 5
	}
	if c.HTTP.MaxConnsPerHost == 0 {
		c.HTTP.MaxConnsPerHost = 10
	}
	if c.HTTP.MaxIdleConnsPerHost == 0 {
		c.HTTP.MaxIdleConnsPerHost = 5
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "voicebridge.events"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Integration.Mode == ModeMCP {
		if c.CalCom.MCPServerURL == "" {
			c.CalCom.MCPServerURL = DefaultCalComMCPURL
			c.Warnings = append(c.Warnings, "CAL_COM_MCP_SERVER_URL not set, defaulting to "+DefaultCalComMCPURL)
		}
		if c.Graph.MCPServerURL == "" {
			c.Graph.MCPServerURL = DefaultOutlookMCPURL
			c.Warnings = append(c.Warnings, "OUTLOOK_MCP_SERVER_URL not set, defaulting to "+DefaultOutlookMCPURL)
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Integration.Mode != ModeDirect && c.Integration.Mode != ModeMCP {
		return fmt.Errorf("invalid integration mode: %s (must be 'direct' or 'mcp')", c.Integration.Mode)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := time.LoadLocation(c.Time.DefaultTimezone); err != nil || c.Time.DefaultTimezone == "Local" {
		return fmt.Errorf("invalid default timezone: %s", c.Time.DefaultTimezone)
	}

	if c.CalCom.EventTypeID < 1 {
		return fmt.Errorf("event_type_id must be positive: %d", c.CalCom.EventTypeID)
	}
	if c.CalCom.DurationMinutes < 1 {
		return fmt.Errorf("duration_minutes must be positive: %d", c.CalCom.DurationMinutes)
	}

	if c.HTTP.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be positive: %d", c.HTTP.TimeoutSeconds)
	}
	if c.HTTP.ConnectTimeoutSeconds < 1 {
		return fmt.Errorf("connect_timeout_seconds must be positive: %d", c.HTTP.ConnectTimeoutSeconds)
	}
	if c.HTTP.ConnectTimeoutSeconds >= c.HTTP.TimeoutSeconds {
		return fmt.Errorf("connect_timeout_seconds (%d) must be less than timeout_seconds (%d)",
			c.HTTP.ConnectTimeoutSeconds, c.HTTP.TimeoutSeconds)
	}
	if c.HTTP.MaxConnsPerHost < 1 || c.HTTP.MaxIdleConnsPerHost < 1 {
		return fmt.Errorf("connection pool sizes must be positive")
	}

	for name, raw := range map[string]string{
		"calcom.base_url":       c.CalCom.BaseURL,
		"graph.base_url":        c.Graph.BaseURL,
		"calcom.mcp_server_url": c.CalCom.MCPServerURL,
		"graph.mcp_server_url":  c.Graph.MCPServerURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s: %q", name, raw)
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", c.Log.Format)
	}

	return nil
}

// Addr returns the listen address for the bridge
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// CalComReady reports whether direct Cal.com credentials are present
func (c *Config) CalComReady() error {
	if c.CalCom.APIKey == "" {
		return &ConfigurationError{Path: "scheduling", Missing: []string{"CAL_COM_API_KEY"}}
	}
	return nil
}

// GraphReady reports whether direct Graph credentials are present
func (c *Config) GraphReady() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"AZURE_TENANT_ID", c.Graph.TenantID},
		{"AZURE_CLIENT_ID", c.Graph.ClientID},
		{"AZURE_CLIENT_SECRET", c.Graph.ClientSecret},
		{"SENDER_UPN", c.Graph.SenderUPN},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Path: "messaging", Missing: missing}
	}
	return nil
}

// SchedulingReady reports whether the scheduling path can run in the
// configured mode
func (c *Config) SchedulingReady() error {
	if c.Integration.Mode == ModeMCP {
		if c.CalCom.MCPServerURL == "" {
			return &ConfigurationError{Path: "scheduling", Missing: []string{"CAL_COM_MCP_SERVER_URL"}}
		}
		return nil
	}
	return c.CalComReady()
}

// MessagingReady reports whether the messaging path can run in the
// configured mode
func (c *Config) MessagingReady() error {
	if c.Integration.Mode == ModeMCP {
		if c.Graph.MCPServerURL == "" {
			return &ConfigurationError{Path: "messaging", Missing: []string{"OUTLOOK_MCP_SERVER_URL"}}
		}
		return nil
	}
	return c.GraphReady()
}

// NewHTTPClient builds the shared outbound client
func (h HTTPClientConfig) NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   time.Duration(h.ConnectTimeoutSeconds) * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       h.MaxConnsPerHost,
		MaxIdleConnsPerHost:   h.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   time.Duration(h.ConnectTimeoutSeconds) * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   time.Duration(h.TimeoutSeconds) * time.Second,
		Transport: transport,
	}
}
