// Package scheduling turns UTC booking requests into wall-clock booking slots.
package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soypete/voicebridge/pkg/timeconv"
)

const (
	// DefaultTimezone is used when the request carries no attendee timezone
	DefaultTimezone = "America/New_York"

	// DefaultEventTypeID is the event type booked when the request leaves it unset
	DefaultEventTypeID = 1837761

	// DefaultDurationMinutes is the booking length when no end time is given
	DefaultDurationMinutes = 30

	// DefaultLanguage is the attendee language when none is given
	DefaultLanguage = "en"
)

// ErrInvalidTimeRange is returned when end_time_utc does not follow start_time_utc.
// It also matches timeconv.ErrInvalidTimeFormat.
var ErrInvalidTimeRange = fmt.Errorf("%w: end time must be after start time", timeconv.ErrInvalidTimeFormat)

// ErrRoundTrip means the slot did not convert back to the requested instant
var ErrRoundTrip = errors.New("local slot does not round-trip to the requested instant")

// Translator converts webhook requests into booking slots
type Translator struct {
	DefaultTimezone string
	EventTypeID     int
	DurationMinutes int
}

// NewTranslator creates a translator, filling unset values with package defaults
func NewTranslator(defaultTimezone string, eventTypeID, durationMinutes int) *Translator {
	if defaultTimezone == "" {
		defaultTimezone = DefaultTimezone
	}
	if eventTypeID <= 0 {
		eventTypeID = DefaultEventTypeID
	}
	if durationMinutes <= 0 {
		durationMinutes = DefaultDurationMinutes
	}
	return &Translator{
		DefaultTimezone: defaultTimezone,
		EventTypeID:     eventTypeID,
		DurationMinutes: durationMinutes,
	}
}

// Translate converts a request into a LocalBookingSlot in the attendee's zone
func (t *Translator) Translate(req Request) (LocalBookingSlot, error) {
	start, err := timeconv.ParseInstant(req.StartTimeUTC)
	if err != nil {
		return LocalBookingSlot{}, fmt.Errorf("start_time_utc: %w", err)
	}
	// HH:MM cannot carry seconds
	if start.Second() != 0 {
		return LocalBookingSlot{}, fmt.Errorf("start_time_utc: %w: %q has seconds; bookings start on a whole minute, resend as %s",
			timeconv.ErrInvalidTimeFormat, req.StartTimeUTC, timeconv.FormatInstant(start.Truncate(time.Minute)))
	}

	tz := strings.TrimSpace(req.AttendeeTimezone)
	if tz == "" {
		tz = t.DefaultTimezone
	}

	local, err := timeconv.UTCToLocal(start, tz)
	if err != nil {
		return LocalBookingSlot{}, fmt.Errorf("attendee_timezone: %w", err)
	}

	duration := t.DurationMinutes
	if req.EndTimeUTC != "" {
		duration, err = durationMinutes(start, req.EndTimeUTC)
		if err != nil {
			return LocalBookingSlot{}, err
		}
	}

	slot := LocalBookingSlot{
		LocalDate:            local.Date,
		LocalTime:            local.Clock,
		LocalTimeZone:        tz,
		LocalUTCOffset:       local.Offset,
		AttendeeName:         req.AttendeeName,
		AttendeeEmail:        req.AttendeeEmail,
		EventTypeID:          req.EventTypeID,
		EventDurationMinutes: duration,
		Guests:               req.Guests,
		Metadata:             req.Metadata,
		Language:             req.Language,
	}
	if slot.EventTypeID == 0 {
		slot.EventTypeID = t.EventTypeID
	}
	if slot.Language == "" {
		slot.Language = DefaultLanguage
	}
	if slot.Guests == nil {
		slot.Guests = []string{}
	}
	if slot.Metadata == nil {
		slot.Metadata = map[string]interface{}{}
	}

	back, err := slot.UTC()
	if err != nil {
		return LocalBookingSlot{}, fmt.Errorf("%w: %v", ErrRoundTrip, err)
	}
	if !back.Equal(start) {
		return LocalBookingSlot{}, fmt.Errorf("%w: %s became %s",
			ErrRoundTrip, timeconv.FormatInstant(start), timeconv.FormatInstant(back))
	}

	return slot, nil
}

func durationMinutes(start time.Time, endUTC string) (int, error) {
	end, err := timeconv.ParseInstant(endUTC)
	if err != nil {
		return 0, fmt.Errorf("end_time_utc: %w", err)
	}
	if !end.After(start) {
		return 0, fmt.Errorf("end_time_utc %q: %w", endUTC, ErrInvalidTimeRange)
	}
	minutes := int(end.Sub(start) / time.Minute)
	if minutes < 1 {
		return 0, fmt.Errorf("end_time_utc %q: %w", endUTC, ErrInvalidTimeRange)
	}
	return minutes, nil
}
