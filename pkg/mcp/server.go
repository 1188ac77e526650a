package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the MCP revision this package speaks
const ProtocolVersion = "2025-03-26"

// SessionHeader carries the session id on streamable-HTTP requests
const SessionHeader = "Mcp-Session-Id"

// JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

const maxRequestBytes = 1 << 20

const (
	// SessionIdleTimeout is how long an unused HTTP session stays valid
	SessionIdleTimeout = 30 * time.Minute

	// MaxSessions caps live HTTP sessions; the least recently used one is
	// dropped when a new session would exceed it
	MaxSessions = 1024
)

// Server implements the MCP server protocol
type Server struct {
	name    string
	version string
	tools   map[string]Tool
	logger  *slog.Logger

	stdin  io.Reader
	stdout io.Writer

	mu       sync.Mutex
	sessions map[string]time.Time // id -> last use
	now      func() time.Time
}

// Request represents an MCP request. A request without an id is a notification.
type Request struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      interface{}            `json:"id,omitempty"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents an MCP response
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an MCP error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewServer creates a new MCP server
func NewServer(name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:     name,
		version:  version,
		tools:    make(map[string]Tool),
		logger:   logger,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

// RegisterTool registers a tool with the server
func (s *Server) RegisterTool(tool Tool) {
	s.tools[tool.Name()] = tool
}

// Run starts the MCP server loop (stdio transport)
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.write(errorResponse(nil, CodeParseError, "Parse error"))
			continue
		}

		if resp := s.handleRequest(ctx, &req); resp != nil {
			s.write(resp)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// ServeHTTP implements the streamable-HTTP transport. Responses are always
// plain JSON; the server never opens an event stream.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		s.endSession(w, r)
		return
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeHTTP(w, http.StatusBadRequest, errorResponse(nil, CodeParseError, "Parse error"))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeHTTP(w, http.StatusBadRequest, errorResponse(nil, CodeParseError, "Parse error"))
		return
	}

	if req.Method != "initialize" {
		sessionID := r.Header.Get(SessionHeader)
		if sessionID == "" {
			s.writeHTTP(w, http.StatusBadRequest, errorResponse(req.ID, CodeInvalidRequest, "Missing session id"))
			return
		}
		if !s.hasSession(sessionID) {
			s.writeHTTP(w, http.StatusNotFound, errorResponse(req.ID, CodeInvalidRequest, "Unknown session"))
			return
		}
	}

	resp := s.handleRequest(r.Context(), &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" && resp.Error == nil {
		w.Header().Set(SessionHeader, s.newSession())
	}
	s.writeHTTP(w, http.StatusOK, resp)
}

// handleRequest dispatches req. Notifications produce no response.
func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	if req.ID == nil {
		s.logger.DebugContext(ctx, "notification received", "method", req.Method)
		return nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found")
	}
}

// handleInitialize handles the initialize request
func (s *Server) handleInitialize(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"serverInfo": map[string]interface{}{
				"name":    s.name,
				"version": s.version,
			},
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
		},
	}
}

// handleToolsList handles the tools/list request
func (s *Server) handleToolsList(req *Request) *Response {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	toolsList := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		tool := s.tools[name]
		toolsList = append(toolsList, ToolInfo{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{"tools": toolsList},
	}
}

// handleToolCall handles the tools/call request
func (s *Server) handleToolCall(ctx context.Context, req *Request) *Response {
	name, ok := req.Params["name"].(string)
	if !ok {
		return errorResponse(req.ID, CodeInvalidParams, "Invalid params: missing 'name'")
	}

	args := map[string]interface{}{}
	if raw, present := req.Params["arguments"]; present && raw != nil {
		args, ok = raw.(map[string]interface{})
		if !ok {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params: 'arguments' must be an object")
		}
	}

	tool, ok := s.tools[name]
	if !ok {
		return errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("Tool not found: %s", name))
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		s.logger.ErrorContext(ctx, "tool execution failed", "tool", name, "error", err)
		return errorResponse(req.ID, CodeInternalError, fmt.Sprintf("Tool execution error: %s", err))
	}

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolResponse{
			Content: []ContentBlock{{Type: "text", Text: result.text()}},
			IsError: !result.Success,
		},
	}
}

func (s *Server) newSession() string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneSessions(now)
	if len(s.sessions) >= MaxSessions {
		s.evictOldestSession()
	}
	s.sessions[id] = now
	return id
}

// hasSession reports whether id is live and marks it used
func (s *Server) hasSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastUsed, ok := s.sessions[id]
	if !ok {
		return false
	}
	now := s.now()
	if now.Sub(lastUsed) > SessionIdleTimeout {
		delete(s.sessions, id)
		return false
	}
	s.sessions[id] = now
	return true
}

// pruneSessions drops idle sessions. Callers hold s.mu.
func (s *Server) pruneSessions(now time.Time) {
	for id, lastUsed := range s.sessions {
		if now.Sub(lastUsed) > SessionIdleTimeout {
			delete(s.sessions, id)
		}
	}
}

// evictOldestSession drops the least recently used session. Callers hold s.mu.
func (s *Server) evictOldestSession() {
	var oldestID string
	var oldest time.Time
	for id, lastUsed := range s.sessions {
		if oldestID == "" || lastUsed.Before(oldest) {
			oldestID, oldest = id, lastUsed
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
		s.logger.Warn("session limit reached, dropped least recently used session", "session", oldestID)
	}
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionHeader)
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func errorResponse(id interface{}, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// write sends a response line on the stdio transport
func (s *Server) write(resp *Response) {
	data, _ := json.Marshal(resp)
	fmt.Fprintln(s.stdout, string(data))
}

func (s *Server) writeHTTP(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to write MCP response", "error", err)
	}
}
