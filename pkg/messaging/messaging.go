// Package messaging defines the email request and result types shared by the
// webhook layer, the Graph client and the MCP email tool.
package messaging

import "context"

// EmailRequest is the email webhook payload
type EmailRequest struct {
	RecipientEmail  string                 `json:"recipient_email"`
	EmailSubject    string                 `json:"email_subject"`
	EmailBodyHTML   string                 `json:"email_body_html"`
	SaveToSentItems *bool                  `json:"save_to_sent_items,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// ShouldSave reports whether the message is kept in the sender's Sent Items.
// Unset means true.
func (r EmailRequest) ShouldSave() bool {
	return r.SaveToSentItems == nil || *r.SaveToSentItems
}

// EmailResult is the normalized outcome of a send attempt
type EmailResult struct {
	Success      bool                   `json:"success"`
	Message      string                 `json:"message"`
	MessageID    string                 `json:"message_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorDetails string                 `json:"error_details,omitempty"`
}

// Failed builds an unsuccessful result
func Failed(message, details string) EmailResult {
	return EmailResult{Success: false, Message: message, ErrorDetails: details}
}

// Backend sends email through a provider. Implementations report downstream
// failures in the result rather than as errors.
type Backend interface {
	SendEmail(ctx context.Context, req EmailRequest) EmailResult
	Name() string
}
