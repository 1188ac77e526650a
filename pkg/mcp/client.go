// Package mcp implements the Model Context Protocol tool subset used by the
// bridge: a streamable-HTTP client and a server with HTTP and stdio transports.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout is the default HTTP client timeout
const DefaultTimeout = 10 * time.Second

// HTTPError is a non-2xx transport answer
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("MCP server returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client represents an MCP client that talks to one server over streamable HTTP
type Client struct {
	url        string
	httpClient *http.Client
	clientName string

	mu          sync.Mutex
	nextID      int
	sessionID   string
	initialized bool
}

// NewClient creates a new MCP client for the endpoint at url
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		url:        url,
		httpClient: httpClient,
		clientName: "voicebridge",
		nextID:     1,
	}
}

// URL returns the server endpoint
func (c *Client) URL() string {
	return c.url
}

// Initialize performs the initialize handshake once per session
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	resp, sessionID, err := c.roundTrip(ctx, c.request("initialize", map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    c.clientName,
			"version": "1.0.0",
		},
	}), "")
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize failed: %w", resp.Error)
	}
	c.sessionID = sessionID

	// The initialized notification has no response
	if _, _, err := c.roundTrip(ctx, &JSONRPCRequest{JSONRPC: "2.0", Method: "notifications/initialized"}, c.sessionID); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	c.initialized = true
	return nil
}

// CallTool calls an MCP tool and returns the result
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*ToolResponse, error) {
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	var toolResponse ToolResponse
	err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	}, &toolResponse)
	if err != nil {
		return nil, err
	}
	return &toolResponse, nil
}

// ListTools lists available MCP tools
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", map[string]interface{}{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// Close ends the server session
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.initialized = false
	c.mu.Unlock()

	if sessionID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(SessionHeader, sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) call(ctx context.Context, method string, params map[string]interface{}, result interface{}) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	req := c.request(method, params)
	sessionID := c.sessionID
	c.mu.Unlock()

	resp, _, err := c.roundTrip(ctx, req, sessionID)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound && sessionID != "" {
			// Session expired on the server; the next call starts a new one
			c.mu.Lock()
			if c.sessionID == sessionID {
				c.sessionID = ""
				c.initialized = false
			}
			c.mu.Unlock()
		}
		return err
	}

	if resp.Error != nil {
		return resp.Error
	}

	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

// request builds a request with the next id; c.mu must be held
func (c *Client) request(method string, params map[string]interface{}) *JSONRPCRequest {
	id := c.nextID
	c.nextID++
	return &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	}
}

// roundTrip posts one message. Notifications return a nil response.
func (c *Client) roundTrip(ctx context.Context, request *JSONRPCRequest, sessionID string) (*JSONRPCResponse, string, error) {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(requestBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	newSession := resp.Header.Get(SessionHeader)
	if request.ID == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, newSession, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var response *JSONRPCResponse
	if mediaType == "text/event-stream" {
		response, err = readEventStream(resp.Body, *request.ID)
	} else {
		response, err = readJSON(resp.Body)
	}
	if err != nil {
		return nil, "", err
	}
	return response, newSession, nil
}

func readJSON(r io.Reader) (*JSONRPCResponse, error) {
	var response JSONRPCResponse
	if err := json.NewDecoder(r).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &response, nil
}

// readEventStream scans SSE events until the response with id arrives.
// Server notifications and requests sharing the stream are skipped.
func readEventStream(r io.Reader, id int) (*JSONRPCResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)

	var data strings.Builder
	flush := func() (*JSONRPCResponse, bool) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, false
		}
		var response JSONRPCResponse
		if err := json.Unmarshal([]byte(data.String()), &response); err != nil {
			return nil, false
		}
		if response.ID == nil || *response.ID != id {
			return nil, false
		}
		return &response, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if response, ok := flush(); ok {
				return response, nil
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}
	if response, ok := flush(); ok {
		return response, nil
	}
	return nil, fmt.Errorf("no response from server")
}

// JSONRPCRequest represents a JSON-RPC 2.0 request; a nil ID makes it a notification
type JSONRPCRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      *int                   `json:"id,omitempty"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// ToolResponse represents the response from calling an MCP tool
type ToolResponse struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text returns the first text block
func (r *ToolResponse) Text() string {
	for _, block := range r.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

// ContentBlock represents a content block in the tool response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolInfo represents information about an MCP tool
type ToolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}
