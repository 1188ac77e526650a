package httpbridge

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const scheduleSchema = `{
  "type": "object",
  "properties": {
    "attendee_name":     {"type": "string", "minLength": 1},
    "attendee_email":    {"type": "string", "format": "email"},
    "attendee_timezone": {"type": ["string", "null"]},
    "event_type_id":     {"type": "integer", "minimum": 0},
    "start_time_utc":    {"type": "string", "minLength": 1},
    "end_time_utc":      {"type": ["string", "null"]},
    "guests":            {"type": ["array", "null"], "items": {"type": "string", "format": "email"}},
    "metadata":          {"type": ["object", "null"]},
    "language":          {"type": ["string", "null"]}
  },
  "required": ["attendee_name", "attendee_email", "event_type_id", "start_time_utc"]
}`

const emailSchema = `{
  "type": "object",
  "properties": {
    "recipient_email":    {"type": "string", "format": "email"},
    "email_subject":      {"type": "string"},
    "email_body_html":    {"type": "string"},
    "save_to_sent_items": {"type": ["boolean", "null"]},
    "metadata":           {"type": ["object", "null"]}
  },
  "required": ["recipient_email", "email_subject", "email_body_html"]
}`

// schemas holds the compiled webhook payload schemas
type schemas struct {
	schedule *gojsonschema.Schema
	email    *gojsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	schedule, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(scheduleSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile scheduling schema: %w", err)
	}
	email, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(emailSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile email schema: %w", err)
	}
	return &schemas{schedule: schedule, email: email}, nil
}

// validate checks body against schema and returns one message per violation
func validate(schema *gojsonschema.Schema, body []byte) ([]string, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	problems := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		problems[i] = desc.String()
	}
	return problems, nil
}
