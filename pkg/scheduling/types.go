package scheduling

import (
	"context"
	"time"

	"github.com/soypete/voicebridge/pkg/timeconv"
)

// Request is the scheduling webhook payload sent by the voice agent
type Request struct {
	AttendeeName     string                 `json:"attendee_name"`
	AttendeeEmail    string                 `json:"attendee_email"`
	AttendeeTimezone string                 `json:"attendee_timezone,omitempty"`
	EventTypeID      int                    `json:"event_type_id"`
	StartTimeUTC     string                 `json:"start_time_utc"`
	EndTimeUTC       string                 `json:"end_time_utc,omitempty"`
	Guests           []string               `json:"guests,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Language         string                 `json:"language,omitempty"`
}

// LocalBookingSlot is the booking expressed in the attendee's wall-clock time.
// It is also the argument shape of the create_cal_com_booking_mcp tool.
type LocalBookingSlot struct {
	LocalDate            string                 `json:"localDate"`
	LocalTime            string                 `json:"localTime"`
	LocalTimeZone        string                 `json:"localTimeZone"`
	LocalUTCOffset       string                 `json:"localUtcOffset,omitempty"`
	AttendeeName         string                 `json:"attendeeName"`
	AttendeeEmail        string                 `json:"attendeeEmail"`
	EventTypeID          int                    `json:"eventTypeId"`
	EventDurationMinutes int                    `json:"eventDurationMinutes"`
	Guests               []string               `json:"guests"`
	Metadata             map[string]interface{} `json:"metadata"`
	Language             string                 `json:"language"`
}

// UTC re-derives the start instant from the slot's wall-clock fields
func (s LocalBookingSlot) UTC() (time.Time, error) {
	return timeconv.Local{
		Date:   s.LocalDate,
		Clock:  s.LocalTime,
		Offset: s.LocalUTCOffset,
	}.UTC(s.LocalTimeZone)
}

// Duration returns the booking length
func (s LocalBookingSlot) Duration() time.Duration {
	return time.Duration(s.EventDurationMinutes) * time.Minute
}

// BookingResult is the normalized outcome of a booking attempt
type BookingResult struct {
	Success        bool                   `json:"success"`
	Message        string                 `json:"message"`
	BookingID      string                 `json:"booking_id,omitempty"`
	BookingUID     string                 `json:"booking_uid,omitempty"`
	Title          string                 `json:"title,omitempty"`
	StartTime      string                 `json:"start_time,omitempty"`
	EndTime        string                 `json:"end_time,omitempty"`
	MeetURL        string                 `json:"meet_url,omitempty"`
	BookingDetails map[string]interface{} `json:"booking_details,omitempty"`
	ErrorDetails   string                 `json:"error_details,omitempty"`
}

// Failed builds an unsuccessful result
func Failed(message, details string) BookingResult {
	return BookingResult{Success: false, Message: message, ErrorDetails: details}
}

// Backend creates bookings on a scheduling provider. Implementations report
// downstream failures in the result rather than as errors.
type Backend interface {
	CreateBooking(ctx context.Context, slot LocalBookingSlot) BookingResult
	Name() string
}
