package tools

import (
	"context"
	"log/slog"

	"github.com/soypete/voicebridge/pkg/mcp"
	"github.com/soypete/voicebridge/pkg/scheduling"
)

// CalComBookingToolName is the registered name of the booking tool
const CalComBookingToolName = "create_cal_com_booking_mcp"

// CalComBookingTool books a LocalBookingSlot through a scheduling backend
type CalComBookingTool struct {
	backend         scheduling.Backend
	defaultDuration int
	logger          *slog.Logger
}

// NewCalComBookingTool creates the booking tool
func NewCalComBookingTool(backend scheduling.Backend, defaultDuration int, logger *slog.Logger) *CalComBookingTool {
	if defaultDuration <= 0 {
		defaultDuration = scheduling.DefaultDurationMinutes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CalComBookingTool{backend: backend, defaultDuration: defaultDuration, logger: logger}
}

// Name returns the tool name
func (t *CalComBookingTool) Name() string {
	return CalComBookingToolName
}

// Description returns the tool description
func (t *CalComBookingTool) Description() string {
	return "Create a Cal.com booking from a wall-clock date, time and IANA timezone for the attendee."
}

// InputSchema describes {"args": LocalBookingSlot}
func (t *CalComBookingTool) InputSchema() map[string]interface{} {
	return wrapSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"localDate":            map[string]interface{}{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"localTime":            map[string]interface{}{"type": "string", "pattern": `^\d{2}:\d{2}$`},
			"localTimeZone":        map[string]interface{}{"type": "string", "minLength": 1},
			"localUtcOffset":       map[string]interface{}{"type": "string", "pattern": `^[+-]\d{2}:\d{2}$`},
			"attendeeName":         map[string]interface{}{"type": "string", "minLength": 1},
			"attendeeEmail":        map[string]interface{}{"type": "string", "format": "email"},
			"eventTypeId":          map[string]interface{}{"type": "integer", "minimum": 1},
			"eventDurationMinutes": map[string]interface{}{"type": "integer", "minimum": 1},
			"guests":               map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string", "format": "email"}},
			"metadata":             map[string]interface{}{"type": "object"},
			"language":             map[string]interface{}{"type": "string"},
		},
		"required": []string{"localDate", "localTime", "localTimeZone", "attendeeName", "attendeeEmail", "eventTypeId"},
	})
}

// Execute validates the slot and books it
func (t *CalComBookingTool) Execute(ctx context.Context, args map[string]interface{}) (*mcp.Result, error) {
	var slot scheduling.LocalBookingSlot
	if err := decodeArgs(t.InputSchema(), args, &slot); err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	if slot.EventDurationMinutes == 0 {
		slot.EventDurationMinutes = t.defaultDuration
	}
	if slot.Language == "" {
		slot.Language = scheduling.DefaultLanguage
	}
	if slot.Guests == nil {
		slot.Guests = []string{}
	}
	if slot.Metadata == nil {
		slot.Metadata = map[string]interface{}{}
	}

	if _, err := slot.UTC(); err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	res := t.backend.CreateBooking(ctx, slot)
	if !res.Success {
		t.logger.WarnContext(ctx, "booking tool failed", "message", res.Message, "details", res.ErrorDetails)
	}
	return jsonResult(res.Success, res)
}
