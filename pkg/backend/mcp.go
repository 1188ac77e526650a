package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/soypete/voicebridge/pkg/mcp"
	"github.com/soypete/voicebridge/pkg/messaging"
	"github.com/soypete/voicebridge/pkg/metrics"
	"github.com/soypete/voicebridge/pkg/scheduling"
	"github.com/soypete/voicebridge/pkg/tools"
)

// ToolCaller invokes a named tool on an MCP server
type ToolCaller interface {
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*mcp.ToolResponse, error)
}

// MCPScheduling books through the create_cal_com_booking_mcp tool
type MCPScheduling struct {
	caller ToolCaller
	logger *slog.Logger
}

// NewMCPScheduling creates a scheduling backend over an MCP tool server
func NewMCPScheduling(caller ToolCaller, logger *slog.Logger) *MCPScheduling {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPScheduling{caller: caller, logger: logger.With("backend", "mcp-scheduling")}
}

// Name identifies the backend
func (b *MCPScheduling) Name() string {
	return "mcp-calcom"
}

// CreateBooking sends the slot as {"args": slot} and decodes the JSON result
func (b *MCPScheduling) CreateBooking(ctx context.Context, slot scheduling.LocalBookingSlot) scheduling.BookingResult {
	text, isError, err := b.call(ctx, tools.CalComBookingToolName, slot)
	if err != nil {
		return scheduling.Failed("Failed to create booking via MCP", err.Error())
	}

	var result scheduling.BookingResult
	if err := json.Unmarshal([]byte(text), &result); err != nil || result.Message == "" {
		if isError {
			return scheduling.Failed(toolErrorMessage(text), "")
		}
		return scheduling.Failed("Invalid response from Cal.com MCP tool", text)
	}
	if isError {
		result.Success = false
	}
	return result
}

func (b *MCPScheduling) call(ctx context.Context, tool string, args interface{}) (string, bool, error) {
	return callTool(ctx, b.caller, b.logger, tool, args)
}

// MCPMessaging sends mail through the send_outlook_email_mcp tool
type MCPMessaging struct {
	caller ToolCaller
	logger *slog.Logger
}

// NewMCPMessaging creates a messaging backend over an MCP tool server
func NewMCPMessaging(caller ToolCaller, logger *slog.Logger) *MCPMessaging {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPMessaging{caller: caller, logger: logger.With("backend", "mcp-messaging")}
}

// Name identifies the backend
func (b *MCPMessaging) Name() string {
	return "mcp-outlook"
}

// SendEmail sends the request as {"args": {...}} and decodes the JSON result
func (b *MCPMessaging) SendEmail(ctx context.Context, req messaging.EmailRequest) messaging.EmailResult {
	args := tools.OutlookEmailArgs{
		RecipientEmail:  req.RecipientEmail,
		EmailSubject:    req.EmailSubject,
		EmailBodyHTML:   req.EmailBodyHTML,
		SaveToSentItems: req.SaveToSentItems,
	}

	text, isError, err := callTool(ctx, b.caller, b.logger, tools.OutlookEmailToolName, args)
	if err != nil {
		return messaging.Failed("Failed to send email via MCP", err.Error())
	}

	var result messaging.EmailResult
	if err := json.Unmarshal([]byte(text), &result); err != nil || result.Message == "" {
		if isError {
			return messaging.Failed(toolErrorMessage(text), "")
		}
		return messaging.Failed("Invalid response from Outlook MCP tool", text)
	}
	if isError {
		result.Success = false
	}
	return result
}

// callTool wraps args, calls the tool and returns its first text block
func callTool(ctx context.Context, caller ToolCaller, logger *slog.Logger, tool string, args interface{}) (string, bool, error) {
	logger.DebugContext(ctx, "calling MCP tool", "tool", tool)

	resp, err := caller.CallTool(ctx, tool, map[string]interface{}{"args": args})
	if err != nil {
		metrics.ObserveOutbound("mcp", metrics.OutcomeError)
		logger.ErrorContext(ctx, "MCP tool call failed", "tool", tool, "error", err)
		return "", false, fmt.Errorf("MCP tool %s: %w", tool, err)
	}

	if resp.IsError {
		metrics.ObserveOutbound("mcp", metrics.OutcomeFailure)
		logger.WarnContext(ctx, "MCP tool reported an error", "tool", tool, "text", resp.Text())
	} else {
		metrics.ObserveOutbound("mcp", metrics.OutcomeSuccess)
	}

	text := resp.Text()
	if text == "" && !resp.IsError {
		return "", false, fmt.Errorf("MCP tool %s returned no content", tool)
	}
	return text, resp.IsError, nil
}

func toolErrorMessage(text string) string {
	if text == "" {
		return "Unknown error from MCP tool"
	}
	return text
}
