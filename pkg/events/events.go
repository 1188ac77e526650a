// Package events publishes booking and email outcomes to a RabbitMQ topic
// exchange.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing keys
const (
	KeyBookingCreated = "bookings.created.v1"
	KeyEmailSent      = "emails.sent.v1"
)

// Producer names the emitting service in event metadata
const Producer = "voicebridge"

// Publisher sends envelopes under a routing key
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

// Meta describes one event
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope is the message body on the wire
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope stamps data with a fresh id. correlationID is usually the
// inbound request id and may be empty.
func NewEnvelope(eventType, correlationID string, data any) Envelope {
	meta := Meta{
		ID:       uuid.NewString(),
		Producer: Producer,
		Time:     time.Now().UTC(),
		Type:     eventType,
	}
	if correlationID != "" {
		meta.CorrelationID = &correlationID
	}
	return Envelope{Meta: meta, Data: data}
}

// BookingCreated is the payload of bookings.created.v1
type BookingCreated struct {
	BookingID     string `json:"booking_id,omitempty"`
	BookingUID    string `json:"booking_uid,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
	AttendeeEmail string `json:"attendee_email"`
	Backend       string `json:"backend"`
}

// EmailSent is the payload of emails.sent.v1
type EmailSent struct {
	MessageID string `json:"message_id,omitempty"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Backend   string `json:"backend"`
}
