package calcom

import (
	"encoding/json"
	"strings"
)

// Attendee is the primary attendee of a v2 booking
type Attendee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
	Language string `json:"language,omitempty"`
}

// CreateBookingRequest is the v2 POST /bookings payload
type CreateBookingRequest struct {
	Start       string                 `json:"start"` // UTC, ISO 8601
	EventTypeID int                    `json:"eventTypeId"`
	Attendee    Attendee               `json:"attendee"`
	Guests      []string               `json:"guests,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Booking is the subset of the v2 booking object the bridge reads
type Booking struct {
	ID          json.RawMessage        `json:"id"`
	UID         string                 `json:"uid"`
	Title       string                 `json:"title"`
	Status      string                 `json:"status,omitempty"`
	Start       string                 `json:"start,omitempty"`
	End         string                 `json:"end,omitempty"`
	MeetingURL  string                 `json:"meetingUrl,omitempty"`
	Location    string                 `json:"location,omitempty"`
	EventTypeID int                    `json:"eventTypeId,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// MeetURL returns the video link: meetingUrl, then an http(s) location, then
// metadata.videoCallUrl
func (b Booking) MeetURL() string {
	if b.MeetingURL != "" {
		return b.MeetingURL
	}
	if isHTTPURL(b.Location) {
		return b.Location
	}
	if v, ok := b.Metadata["videoCallUrl"].(string); ok {
		return v
	}
	return ""
}

// IDString returns the booking id as text whether the API sent a number or a string
func (b Booking) IDString() string {
	raw := strings.TrimSpace(string(b.ID))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.ID, &s); err == nil {
		return s
	}
	return raw
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
