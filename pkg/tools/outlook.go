package tools

import (
	"context"
	"log/slog"

	"github.com/soypete/voicebridge/pkg/mcp"
	"github.com/soypete/voicebridge/pkg/messaging"
)

// OutlookEmailToolName is the registered name of the email tool
const OutlookEmailToolName = "send_outlook_email_mcp"

// OutlookEmailArgs is the wrapped argument object of the email tool
type OutlookEmailArgs struct {
	RecipientEmail  string `json:"recipientEmail"`
	EmailSubject    string `json:"emailSubject"`
	EmailBodyHTML   string `json:"emailBodyHtml"`
	SaveToSentItems *bool  `json:"saveToSentItems,omitempty"`
}

// Request converts the tool arguments into a messaging request
func (a OutlookEmailArgs) Request() messaging.EmailRequest {
	return messaging.EmailRequest{
		RecipientEmail:  a.RecipientEmail,
		EmailSubject:    a.EmailSubject,
		EmailBodyHTML:   a.EmailBodyHTML,
		SaveToSentItems: a.SaveToSentItems,
	}
}

// OutlookEmailTool sends mail through a messaging backend
type OutlookEmailTool struct {
	backend messaging.Backend
	logger  *slog.Logger
}

// NewOutlookEmailTool creates the email tool
func NewOutlookEmailTool(backend messaging.Backend, logger *slog.Logger) *OutlookEmailTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutlookEmailTool{backend: backend, logger: logger}
}

// Name returns the tool name
func (t *OutlookEmailTool) Name() string {
	return OutlookEmailToolName
}

// Description returns the tool description
func (t *OutlookEmailTool) Description() string {
	return "Send an HTML email from the configured Outlook mailbox."
}

// InputSchema describes {"args": OutlookEmailArgs}
func (t *OutlookEmailTool) InputSchema() map[string]interface{} {
	return wrapSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"recipientEmail":  map[string]interface{}{"type": "string", "format": "email"},
			"emailSubject":    map[string]interface{}{"type": "string"},
			"emailBodyHtml":   map[string]interface{}{"type": "string"},
			"saveToSentItems": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"recipientEmail", "emailSubject", "emailBodyHtml"},
	})
}

// Execute validates the arguments and sends the email
func (t *OutlookEmailTool) Execute(ctx context.Context, args map[string]interface{}) (*mcp.Result, error) {
	var emailArgs OutlookEmailArgs
	if err := decodeArgs(t.InputSchema(), args, &emailArgs); err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	res := t.backend.SendEmail(ctx, emailArgs.Request())
	if !res.Success {
		t.logger.WarnContext(ctx, "email tool failed", "message", res.Message, "details", res.ErrorDetails)
	}
	return jsonResult(res.Success, res)
}
