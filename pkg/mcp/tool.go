package mcp

import "context"

// Tool is a capability exposed through tools/list and tools/call
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is the outcome of a tool execution. Output becomes the text content
// block; a result with Success false is reported with isError set.
type Result struct {
	Success bool                   `json:"success"`
	Output  string                 `json:"output"`
	Error   string                 `json:"error,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// ErrorResult creates an error result
func ErrorResult(msg string) *Result {
	return &Result{
		Success: false,
		Error:   msg,
	}
}

// text is what goes into the content block
func (r *Result) text() string {
	if r.Output == "" && !r.Success {
		return r.Error
	}
	return r.Output
}
