package httpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/soypete/voicebridge/pkg/events"
	"github.com/soypete/voicebridge/pkg/logging"
	"github.com/soypete/voicebridge/pkg/messaging"
	"github.com/soypete/voicebridge/pkg/scheduling"
	"github.com/soypete/voicebridge/pkg/timeconv"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	publishTimeout = 5 * time.Second
)

// WebhookResponse is the body of every webhook answer
type WebhookResponse struct {
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Errors    []string    `json:"errors,omitempty"`
}

// BookingDetails is the success detail block of the scheduling webhook
type BookingDetails struct {
	ID        string `json:"id"`
	UID       string `json:"uid,omitempty"`
	Title     string `json:"title,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	MeetURL   string `json:"meet_url,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status          string `json:"status"`
	IntegrationMode string `json:"integration_mode"`
	Timestamp       string `json:"timestamp"`
}

// decodeWebhook reads, parses and schema-checks a webhook body into dst.
// It writes the error response itself and reports whether to continue.
func (s *Server) decodeWebhook(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, dst interface{}) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}

	if !json.Valid(body) {
		respondJSON(w, http.StatusBadRequest, WebhookResponse{Status: statusError, Message: "Invalid JSON body"})
		return false
	}

	problems, err := validate(schema, body)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, WebhookResponse{Status: statusError, Message: err.Error()})
		return false
	}
	if len(problems) > 0 {
		logging.FromContext(r.Context(), s.logger).InfoContext(r.Context(), "webhook payload rejected", "errors", problems)
		respondJSON(w, http.StatusUnprocessableEntity, WebhookResponse{
			Status:  statusError,
			Message: "Request validation failed",
			Errors:  problems,
		})
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, WebhookResponse{
			Status:  statusError,
			Message: "Request validation failed",
			Errors:  []string{err.Error()},
		})
		return false
	}
	return true
}

// handleSchedule handles the scheduling webhook
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx, s.logger)

	var req scheduling.Request
	if !s.decodeWebhook(w, r, s.schemas.schedule, &req) {
		return
	}

	slot, err := s.translator.Translate(req)
	if err != nil {
		if errors.Is(err, timeconv.ErrInvalidTimeFormat) || errors.Is(err, timeconv.ErrInvalidTimeZone) {
			logger.InfoContext(ctx, "scheduling request rejected", "error", err)
			respondJSON(w, http.StatusBadRequest, WebhookResponse{Status: statusError, Message: err.Error()})
			return
		}
		logger.ErrorContext(ctx, "failed to translate scheduling request", "error", err)
		respondJSON(w, http.StatusInternalServerError, WebhookResponse{
			Status:  statusError,
			Message: "Failed to prepare booking",
			Details: err.Error(),
		})
		return
	}

	logger.InfoContext(ctx, "scheduling request translated",
		"start_time_utc", req.StartTimeUTC,
		"local_date", slot.LocalDate,
		"local_time", slot.LocalTime,
		"timezone", slot.LocalTimeZone)

	res := s.backends.Scheduling.CreateBooking(ctx, slot)
	if !res.Success {
		logger.ErrorContext(ctx, "booking failed", "backend", s.backends.Scheduling.Name(), "message", res.Message, "details", res.ErrorDetails)
		resp := WebhookResponse{Status: statusError, Message: res.Message}
		if res.ErrorDetails != "" {
			resp.Details = res.ErrorDetails
		}
		respondJSON(w, http.StatusInternalServerError, resp)
		return
	}

	logger.InfoContext(ctx, "booking created", "backend", s.backends.Scheduling.Name(), "booking_id", res.BookingID)

	resp := WebhookResponse{Status: statusSuccess, Message: res.Message}
	if res.BookingID != "" {
		resp.Details = BookingDetails{
			ID:        res.BookingID,
			UID:       res.BookingUID,
			Title:     res.Title,
			StartTime: res.StartTime,
			EndTime:   res.EndTime,
			MeetURL:   res.MeetURL,
		}
	}
	respondJSON(w, http.StatusOK, resp)

	s.publish(ctx, events.KeyBookingCreated, events.BookingCreated{
		BookingID:     res.BookingID,
		BookingUID:    res.BookingUID,
		StartTime:     res.StartTime,
		EndTime:       res.EndTime,
		AttendeeEmail: req.AttendeeEmail,
		Backend:       s.backends.Scheduling.Name(),
	}, requestID(r))
}

// handleEmail handles the messaging webhook
func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx, s.logger)

	var req messaging.EmailRequest
	if !s.decodeWebhook(w, r, s.schemas.email, &req) {
		return
	}

	res := s.backends.Messaging.SendEmail(ctx, req)
	if !res.Success {
		logger.ErrorContext(ctx, "email failed", "backend", s.backends.Messaging.Name(), "message", res.Message, "details", res.ErrorDetails)
		resp := WebhookResponse{Status: statusError, Message: res.Message}
		if res.ErrorDetails != "" {
			resp.Details = res.ErrorDetails
		}
		respondJSON(w, http.StatusInternalServerError, resp)
		return
	}

	logger.InfoContext(ctx, "email sent", "backend", s.backends.Messaging.Name(), "message_id", res.MessageID)
	respondJSON(w, http.StatusOK, WebhookResponse{
		Status:    statusSuccess,
		Message:   res.Message,
		MessageID: res.MessageID,
	})

	s.publish(ctx, events.KeyEmailSent, events.EmailSent{
		MessageID: res.MessageID,
		Recipient: req.RecipientEmail,
		Subject:   req.EmailSubject,
		Backend:   s.backends.Messaging.Name(),
	}, requestID(r))
}

// publish reports an outcome in the background so the caller never waits on
// the broker; failures are only logged
func (s *Server) publish(ctx context.Context, key string, data interface{}, correlationID string) {
	logger := logging.FromContext(ctx, s.logger)
	env := events.NewEnvelope(key, correlationID, data)
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)

	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		defer cancel()

		if err := s.publisher.Publish(pubCtx, key, env); err != nil {
			logger.WarnContext(pubCtx, "failed to publish event", "key", key, "error", err)
		}
	}()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:          "healthy",
		IntegrationMode: s.config.Integration.Mode,
		Timestamp:       s.now().UTC().Format(time.RFC3339),
	})
}

// handleIndex serves the service banner
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondJSON(w, http.StatusNotFound, WebhookResponse{Status: statusError, Message: "Not found"})
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		respondJSON(w, http.StatusMethodNotAllowed, WebhookResponse{Status: statusError, Message: "Method not allowed"})
		return
	}

	respondJSON(w, http.StatusOK, WebhookResponse{
		Status: "ok",
		Message: fmt.Sprintf("Bridge Server is running (Mode: %s). Webhook endpoints at %s and %s",
			s.config.Integration.Mode, ScheduleWebhookPath, EmailWebhookPath),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
