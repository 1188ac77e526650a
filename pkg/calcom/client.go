// Package calcom creates bookings through the Cal.com v2 REST API.
package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/soypete/voicebridge/pkg/metrics"
	"github.com/soypete/voicebridge/pkg/scheduling"
	"github.com/soypete/voicebridge/pkg/timeconv"
)

const (
	// DefaultBaseURL is the default Cal.com API base URL
	DefaultBaseURL = "https://api.cal.com/v2"

	// DefaultAPIVersion is sent as the cal-api-version header on booking calls
	DefaultAPIVersion = "2024-08-13"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 10 * time.Second

	// ProviderName labels this backend in logs and metrics
	ProviderName = "calcom"
)

// Result messages
const (
	MessageBooked          = "Booking created successfully"
	MessageFailed          = "Failed to create booking"
	MessageTransportFailed = "An error occurred while creating the booking"
)

// APIError is a non-2xx answer from Cal.com
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Cal.com API error: %d - %s", e.StatusCode, compactBody(e.Body))
}

// Options configures a Client
type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client handles HTTP communication with the Cal.com API
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Cal.com API client
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		apiVersion: opts.APIVersion,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With("provider", ProviderName),
	}
}

// Name identifies the backend
func (c *Client) Name() string {
	return ProviderName
}

// doRequest performs an HTTP request to the Cal.com API and returns the raw
// response body. Non-2xx answers come back as *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	fullURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("cal-api-version", c.apiVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: respBody}
	}

	return respBody, nil
}

// CreateBooking books slot. The start instant is re-derived from the slot's
// wall-clock fields. Failures are reported in the result, never returned.
func (c *Client) CreateBooking(ctx context.Context, slot scheduling.LocalBookingSlot) scheduling.BookingResult {
	start, err := slot.UTC()
	if err != nil {
		c.logger.WarnContext(ctx, "booking slot could not be converted", "error", err)
		metrics.ObserveOutbound(ProviderName, metrics.OutcomeFailure)
		return scheduling.Failed(MessageFailed, err.Error())
	}
	end := start.Add(slot.Duration())

	payload := CreateBookingRequest{
		Start:       timeconv.FormatInstant(start),
		EventTypeID: slot.EventTypeID,
		Attendee: Attendee{
			Name:     slot.AttendeeName,
			Email:    slot.AttendeeEmail,
			TimeZone: slot.LocalTimeZone,
			Language: slot.Language,
		},
		Guests:   slot.Guests,
		Metadata: slot.Metadata,
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/bookings", payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.logger.ErrorContext(ctx, "booking rejected",
				"status", apiErr.StatusCode, "body", string(apiErr.Body))
			metrics.ObserveOutbound(ProviderName, metrics.OutcomeFailure)
			return scheduling.Failed(MessageFailed, apiErr.Error())
		}
		c.logger.ErrorContext(ctx, "booking request failed", "error", err)
		metrics.ObserveOutbound(ProviderName, metrics.OutcomeError)
		return scheduling.Failed(MessageTransportFailed, err.Error())
	}

	booking, err := decodeBooking(respBody)
	if err != nil {
		c.logger.ErrorContext(ctx, "booking response unreadable", "error", err, "body", string(respBody))
		metrics.ObserveOutbound(ProviderName, metrics.OutcomeError)
		return scheduling.Failed(MessageTransportFailed, err.Error())
	}

	metrics.ObserveOutbound(ProviderName, metrics.OutcomeSuccess)

	title := booking.Title
	if title == "" {
		title = "Meeting"
	}
	startText := timeconv.FormatInstant(start)
	endText := timeconv.FormatInstant(end)

	c.logger.InfoContext(ctx, "booking created", "booking_uid", booking.UID, "start", startText)

	return scheduling.BookingResult{
		Success:    true,
		Message:    MessageBooked,
		BookingID:  booking.IDString(),
		BookingUID: booking.UID,
		Title:      title,
		StartTime:  startText,
		EndTime:    endText,
		MeetURL:    booking.MeetURL(),
		BookingDetails: map[string]interface{}{
			"id":        booking.IDString(),
			"uid":       booking.UID,
			"title":     title,
			"startTime": startText,
			"endTime":   endText,
			"attendees": []map[string]string{{
				"name":  slot.AttendeeName,
				"email": slot.AttendeeEmail,
			}},
			"status":      bookingStatus(booking.Status),
			"eventTypeId": slot.EventTypeID,
		},
	}
}

// decodeBooking unwraps the {status, data} envelope. data may hold a single
// booking or, for recurring event types, a list whose first entry is used.
func decodeBooking(body []byte) (Booking, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Booking{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	raw := bytes.TrimSpace(envelope.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = body
	}

	if raw[0] == '[' {
		var list []Booking
		if err := json.Unmarshal(raw, &list); err != nil {
			return Booking{}, fmt.Errorf("failed to unmarshal booking list: %w", err)
		}
		if len(list) == 0 {
			return Booking{}, errors.New("booking list is empty")
		}
		return list[0], nil
	}

	var booking Booking
	if err := json.Unmarshal(raw, &booking); err != nil {
		return Booking{}, fmt.Errorf("failed to unmarshal booking: %w", err)
	}
	return booking, nil
}

func bookingStatus(s string) string {
	if s == "" {
		return "accepted"
	}
	return s
}

// compactBody renders a response body for error details: compact JSON when it
// parses, trimmed text otherwise
func compactBody(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		return buf.String()
	}
	return strings.TrimSpace(string(body))
}
