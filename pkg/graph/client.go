// Package graph sends mail through Microsoft Graph using app-only tokens.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soypete/voicebridge/pkg/messaging"
	"github.com/soypete/voicebridge/pkg/metrics"
)

const (
	// DefaultBaseURL is the Graph v1.0 endpoint
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 10 * time.Second

	// ProviderName labels this backend in logs and metrics
	ProviderName = "graph"
)

// Result messages
const (
	MessageFailed          = "Failed to send email"
	MessageTransportFailed = "An error occurred while sending the email"
)

// TokenProvider hands out bearer tokens for Graph
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
}

// Formatter turns agent content into the HTML body that is sent
type Formatter interface {
	Format(subject, content string) (string, error)
}

// APIError is a non-2xx answer from Graph
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

// Error prefers the nested error.message Graph returns
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Graph API error: %d - %s", e.StatusCode, strings.TrimSpace(string(e.Body)))
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Options configures a Client
type Options struct {
	SenderUPN  string
	BaseURL    string
	Tokens     TokenProvider
	HTTPClient *http.Client
	Formatter  Formatter
	Logger     *slog.Logger
}

// Client sends mail as SenderUPN
type Client struct {
	baseURL    string
	senderUPN  string
	tokens     TokenProvider
	httpClient *http.Client
	formatter  Formatter
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a Graph mail client
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		senderUPN:  opts.SenderUPN,
		tokens:     opts.Tokens,
		httpClient: opts.HTTPClient,
		formatter:  opts.Formatter,
		logger:     opts.Logger.With("provider", ProviderName),
		now:        time.Now,
	}
}

// Name identifies the backend
func (c *Client) Name() string {
	return ProviderName
}

// SendEmail sends req through /users/{upn}/sendMail. Failures are reported in
// the result, never returned.
func (c *Client) SendEmail(ctx context.Context, req messaging.EmailRequest) messaging.EmailResult {
	content := req.EmailBodyHTML
	if c.formatter != nil {
		formatted, err := c.formatter.Format(req.EmailSubject, content)
		if err != nil {
			c.logger.ErrorContext(ctx, "email formatting failed", "error", err)
			return failed(MessageTransportFailed, err.Error())
		}
		content = formatted
	}

	payload := sendMailRequest{
		Message: message{
			Subject: req.EmailSubject,
			Body:    itemBody{ContentType: "HTML", Content: content},
			ToRecipients: []recipient{
				{EmailAddress: emailAddress{Address: req.RecipientEmail}},
			},
		},
		SaveToSentItems: req.ShouldSave(),
	}

	requestID := uuid.NewString()
	path := "/users/" + url.PathEscape(c.senderUPN) + "/sendMail"

	if err := c.doRequest(ctx, http.MethodPost, path, requestID, payload, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.logger.ErrorContext(ctx, "sendMail rejected",
				"status", apiErr.StatusCode, "code", apiErr.Code, "body", string(apiErr.Body))
			metrics.ObserveOutbound(ProviderName, metrics.OutcomeFailure)
			return failed(MessageFailed, apiErr.Error())
		}
		c.logger.ErrorContext(ctx, "sendMail request failed", "error", err)
		metrics.ObserveOutbound(ProviderName, metrics.OutcomeError)
		return failed(MessageTransportFailed, err.Error())
	}

	metrics.ObserveOutbound(ProviderName, metrics.OutcomeSuccess)
	c.logger.InfoContext(ctx, "email sent", "client_request_id", requestID)

	return messaging.EmailResult{
		Success:   true,
		Message:   "Email sent successfully to " + req.RecipientEmail,
		MessageID: requestID,
		Details: map[string]interface{}{
			"recipient":     req.RecipientEmail,
			"subject":       req.EmailSubject,
			"saved_to_sent": req.ShouldSave(),
			"sent_at":       c.now().UTC().Format(time.RFC3339),
		},
	}
}

// User is the part of the Graph user resource read by CheckSender
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// CheckSender verifies the credentials can read the sender mailbox user
func (c *Client) CheckSender(ctx context.Context) (*User, error) {
	var user User
	path := "/users/" + url.PathEscape(c.senderUPN)
	if err := c.doRequest(ctx, http.MethodGet, path, uuid.NewString(), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) doRequest(ctx context.Context, method, path, requestID string, body, result interface{}) error {
	if c.tokens == nil {
		return errors.New("no token provider configured")
	}
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("client-request-id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: respBody}
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func failed(message, details string) messaging.EmailResult {
	res := messaging.Failed(message, details)
	res.Details = map[string]interface{}{"error": details}
	return res
}
