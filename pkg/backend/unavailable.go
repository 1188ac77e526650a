package backend

import (
	"context"

	"github.com/soypete/voicebridge/pkg/messaging"
	"github.com/soypete/voicebridge/pkg/scheduling"
)

// Unavailable stands in for a path whose configuration is incomplete
type Unavailable struct {
	Reason string
}

// Name identifies the backend
func (u Unavailable) Name() string {
	return "unavailable"
}

// Message is the failure message returned for every call
func (u Unavailable) Message() string {
	return "Configuration error: " + u.Reason
}

// CreateBooking always fails
func (u Unavailable) CreateBooking(ctx context.Context, slot scheduling.LocalBookingSlot) scheduling.BookingResult {
	return scheduling.Failed(u.Message(), u.Reason)
}

// SendEmail always fails
func (u Unavailable) SendEmail(ctx context.Context, req messaging.EmailRequest) messaging.EmailResult {
	return messaging.Failed(u.Message(), u.Reason)
}
