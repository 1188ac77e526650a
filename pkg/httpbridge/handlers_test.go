package httpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypete/voicebridge/pkg/backend"
	"github.com/soypete/voicebridge/pkg/calcom"
	"github.com/soypete/voicebridge/pkg/config"
	"github.com/soypete/voicebridge/pkg/events"
	"github.com/soypete/voicebridge/pkg/logging"
	"github.com/soypete/voicebridge/pkg/mcp"
	"github.com/soypete/voicebridge/pkg/messaging"
	"github.com/soypete/voicebridge/pkg/metrics"
	"github.com/soypete/voicebridge/pkg/scheduling"
	"github.com/soypete/voicebridge/pkg/tools"
)

type stubScheduler struct {
	calls  int
	got    scheduling.LocalBookingSlot
	result scheduling.BookingResult
}

func (s *stubScheduler) CreateBooking(_ context.Context, slot scheduling.LocalBookingSlot) scheduling.BookingResult {
	s.calls++
	s.got = slot
	return s.result
}

func (s *stubScheduler) Name() string { return "stub-scheduler" }

type stubMailer struct {
	calls  int
	got    messaging.EmailRequest
	result messaging.EmailResult
}

func (s *stubMailer) SendEmail(_ context.Context, req messaging.EmailRequest) messaging.EmailResult {
	s.calls++
	s.got = req
	return s.result
}

func (s *stubMailer) Name() string { return "stub-mailer" }

type published struct {
	key string
	env events.Envelope
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, key string, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{key: key, env: env})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// blockingPublisher holds every Publish call until release is closed
type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ string, _ events.Envelope) error {
	p.started <- struct{}{}
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *blockingPublisher) Close() error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Integration.Mode = config.ModeDirect
	cfg.Time.DefaultTimezone = "America/New_York"
	cfg.CalCom.EventTypeID = 1837761
	cfg.CalCom.DurationMinutes = 30
	return cfg
}

type fixture struct {
	server    *Server
	scheduler *stubScheduler
	mailer    *stubMailer
	publisher *recordingPublisher
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		scheduler: &stubScheduler{result: scheduling.BookingResult{
			Success:    true,
			Message:    "Booking created successfully",
			BookingID:  "12345",
			BookingUID: "bk_abc",
			Title:      "Consultation",
			StartTime:  "2025-12-10T19:00:00Z",
			EndTime:    "2025-12-10T19:30:00Z",
			MeetURL:    "https://cal.video/bk_abc",
		}},
		mailer: &stubMailer{result: messaging.EmailResult{
			Success:   true,
			Message:   "Email sent successfully to bob@example.com",
			MessageID: "req-1",
		}},
		publisher: &recordingPublisher{},
	}

	server, err := NewServer(Options{
		Config:    cfg,
		Backends:  backend.Set{Scheduling: f.scheduler, Messaging: f.mailer},
		Publisher: f.publisher,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	f.server = server
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	f.server.Wait()
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

const scheduleBody = `{
	"attendee_name": "Ada Lovelace",
	"attendee_email": "ada@example.com",
	"attendee_timezone": "America/New_York",
	"event_type_id": 1837761,
	"start_time_utc": "2025-12-10T19:00:00Z"
}`

const emailBody = `{
	"recipient_email": "bob@example.com",
	"email_subject": "Your consultation",
	"email_body_html": "<p>See you soon</p>",
	"save_to_sent_items": false
}`

func TestSchedule_Success(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, ScheduleWebhookPath, scheduleBody, map[string]string{RequestIDHeader: "req-abc"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Booking created successfully", body["message"])

	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "12345", details["id"])
	assert.Equal(t, "bk_abc", details["uid"])
	assert.Equal(t, "https://cal.video/bk_abc", details["meet_url"])

	assert.Equal(t, "2025-12-10", f.scheduler.got.LocalDate)
	assert.Equal(t, "14:00", f.scheduler.got.LocalTime)
	assert.Equal(t, "America/New_York", f.scheduler.got.LocalTimeZone)
	assert.Equal(t, "req-abc", rec.Header().Get(RequestIDHeader))

	require.Len(t, f.publisher.msgs, 1)
	msg := f.publisher.msgs[0]
	assert.Equal(t, events.KeyBookingCreated, msg.key)
	require.NotNil(t, msg.env.Meta.CorrelationID)
	assert.Equal(t, "req-abc", *msg.env.Meta.CorrelationID)
}

func TestSchedule_SlowPublisherDoesNotDelayResponse(t *testing.T) {
	f := newFixture(t, nil)
	slow := &blockingPublisher{started: make(chan struct{}, 1), release: make(chan struct{})}
	f.server.publisher = slow

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	client := srv.Client()
	client.Timeout = 2 * time.Second

	start := time.Now()
	resp, err := client.Post(srv.URL+ScheduleWebhookPath, "application/json", strings.NewReader(scheduleBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("event was never published")
	}
	close(slow.release)
	f.server.Wait()
}

func TestSchedule_DefaultsTimezone(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Time.DefaultTimezone = "Asia/Kolkata" })

	rec := f.do(http.MethodPost, ScheduleWebhookPath, `{
		"attendee_name": "Ada",
		"attendee_email": "ada@example.com",
		"attendee_timezone": null,
		"event_type_id": 0,
		"start_time_utc": "2025-06-01T04:30:00Z"
	}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Asia/Kolkata", f.scheduler.got.LocalTimeZone)
	assert.Equal(t, "10:00", f.scheduler.got.LocalTime)
	assert.Equal(t, 1837761, f.scheduler.got.EventTypeID)
}

func TestSchedule_RequestErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantErrors bool
	}{
		{
			name:       "unparseable json",
			body:       `{"attendee_name":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing start time",
			body:       `{"attendee_name":"Ada","attendee_email":"ada@example.com","event_type_id":1}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantErrors: true,
		},
		{
			name:       "bad email",
			body:       `{"attendee_name":"Ada","attendee_email":"not-an-email","event_type_id":1,"start_time_utc":"2025-12-10T19:00:00Z"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantErrors: true,
		},
		{
			name:       "empty name",
			body:       `{"attendee_name":"","attendee_email":"ada@example.com","event_type_id":1,"start_time_utc":"2025-12-10T19:00:00Z"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantErrors: true,
		},
		{
			name:       "event type as string",
			body:       `{"attendee_name":"Ada","attendee_email":"ada@example.com","event_type_id":"abc","start_time_utc":"2025-12-10T19:00:00Z"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantErrors: true,
		},
		{
			name:       "bad guest email",
			body:       `{"attendee_name":"Ada","attendee_email":"ada@example.com","event_type_id":1,"start_time_utc":"2025-12-10T19:00:00Z","guests":["nope"]}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantErrors: true,
		},
		{
			name:       "unknown timezone",
			body:       `{"attendee_name":"Ada","attendee_email":"ada@example.com","attendee_timezone":"Not/AZone","event_type_id":1,"start_time_utc":"2025-12-10T19:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed start time",
			body:       `{"attendee_name":"Ada","attendee_email":"ada@example.com","event_type_id":1,"start_time_utc":"10 December 2025"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "end before start",
			body:       `{"attendee_name":"Ada","attendee_email":"ada@example.com","event_type_id":1,"start_time_utc":"2025-12-10T19:00:00Z","end_time_utc":"2025-12-10T18:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			rec := f.do(http.MethodPost, ScheduleWebhookPath, tt.body, nil)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["message"])
			if tt.wantErrors {
				assert.NotEmpty(t, body["errors"])
			}
			assert.Zero(t, f.scheduler.calls, "no outbound call for a rejected request")
			assert.Empty(t, f.publisher.msgs)
		})
	}
}

func TestSchedule_BackendFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.scheduler.result = scheduling.Failed("Failed to create booking", `Cal.com API error: 409 - {"message":"slot taken"}`)

	rec := f.do(http.MethodPost, ScheduleWebhookPath, scheduleBody, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Failed to create booking", body["message"])
	assert.Contains(t, body["details"], "slot taken")
	assert.Empty(t, f.publisher.msgs)
}

func TestSchedule_CalComConflictMapsTo500(t *testing.T) {
	cal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":"error","error":{"message":"User either already has booking at this time or is not available"}}`))
	}))
	defer cal.Close()

	server, err := NewServer(Options{
		Config: testConfig(),
		Backends: backend.Set{
			Scheduling: calcom.NewClient(calcom.Options{APIKey: "k", BaseURL: cal.URL, Logger: logging.Discard()}),
			Messaging:  &stubMailer{},
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, ScheduleWebhookPath, strings.NewReader(scheduleBody)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, calcom.MessageFailed, body["message"])
	assert.Contains(t, body["details"], "409")
	assert.Contains(t, body["details"], "already has booking")
}

func TestSchedule_UnconfiguredPath(t *testing.T) {
	mailer := &stubMailer{result: messaging.EmailResult{Success: true, Message: "sent"}}
	server, err := NewServer(Options{
		Config: testConfig(),
		Backends: backend.Set{
			Scheduling: backend.Unavailable{Reason: "scheduling integration is missing CAL_COM_API_KEY"},
			Messaging:  mailer,
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, ScheduleWebhookPath, strings.NewReader(scheduleBody)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Configuration error: scheduling integration is missing CAL_COM_API_KEY", body["message"])

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, EmailWebhookPath, strings.NewReader(emailBody)))
	assert.Equal(t, http.StatusOK, rec.Code, "the other path keeps working")
	assert.Equal(t, 1, mailer.calls)
}

func TestSchedule_MCPEndToEnd(t *testing.T) {
	var calStart string
	cal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req calcom.CreateBookingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		calStart = req.Start
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":777,"uid":"bk_mcp","title":"Consultation"}}`))
	}))
	defer cal.Close()

	toolServer := mcp.NewServer("calcom-tools", "test", logging.Discard())
	toolServer.RegisterTool(tools.NewCalComBookingTool(
		calcom.NewClient(calcom.Options{APIKey: "k", BaseURL: cal.URL, Logger: logging.Discard()}),
		30, logging.Discard()))
	toolSrv := httptest.NewServer(toolServer)
	defer toolSrv.Close()

	cfg := testConfig()
	cfg.Integration.Mode = config.ModeMCP
	server, err := NewServer(Options{
		Config: cfg,
		Backends: backend.Set{
			Scheduling: backend.NewMCPScheduling(mcp.NewClient(toolSrv.URL, nil), logging.Discard()),
			Messaging:  &stubMailer{},
		},
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, ScheduleWebhookPath, strings.NewReader(scheduleBody)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "777", details["id"])
	assert.Equal(t, "2025-12-10T19:00:00Z", details["start_time"])
	assert.Equal(t, "2025-12-10T19:00:00Z", calStart)
}

func TestEmail(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(http.MethodPost, EmailWebhookPath, emailBody, nil)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, "req-1", body["message_id"])
		assert.False(t, f.mailer.got.ShouldSave())
		require.Len(t, f.publisher.msgs, 1)
		assert.Equal(t, events.KeyEmailSent, f.publisher.msgs[0].key)
	})

	t.Run("bad recipient is rejected before any outbound call", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(http.MethodPost, EmailWebhookPath,
			`{"recipient_email":"not-an-email","email_subject":"x","email_body_html":"y"}`, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Zero(t, f.mailer.calls)
	})

	t.Run("downstream failure", func(t *testing.T) {
		f := newFixture(t, nil)
		f.mailer.result = messaging.Failed("Failed to send email", "ErrorSendAsDenied")
		rec := f.do(http.MethodPost, EmailWebhookPath, emailBody, nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "ErrorSendAsDenied", body["details"])
	})
}

func TestWebhookSignature(t *testing.T) {
	const secret = "webhook-secret"
	sig := Sign(secret, []byte(emailBody))

	tests := []struct {
		name       string
		body       string
		headers    map[string]string
		wantStatus int
	}{
		{name: "valid", body: emailBody, headers: map[string]string{"x-webhook-signature": sig}, wantStatus: http.StatusOK},
		{name: "valid alternate header", body: emailBody, headers: map[string]string{"x-elevenlabs-signature": sig}, wantStatus: http.StatusOK},
		{name: "valid prefixed", body: emailBody, headers: map[string]string{"x-signature": "sha256=" + sig}, wantStatus: http.StatusOK},
		{name: "missing", body: emailBody, wantStatus: http.StatusUnauthorized},
		{name: "tampered body", body: strings.Replace(emailBody, "bob@", "eve@", 1), headers: map[string]string{"x-webhook-signature": sig}, wantStatus: http.StatusUnauthorized},
		{name: "not hex", body: emailBody, headers: map[string]string{"x-webhook-signature": "zzz"}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) { c.Webhook.Secret = secret })
			rec := f.do(http.MethodPost, EmailWebhookPath, tt.body, tt.headers)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.NotEmpty(t, body["status"])
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Zero(t, f.mailer.calls)
			} else {
				assert.Equal(t, "bob@example.com", f.mailer.got.RecipientEmail, "body is intact after verification")
			}
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	f := newFixture(t, nil)
	huge := `{"email_body_html":"` + strings.Repeat("a", maxBodyBytes) + `"}`

	rec := f.do(http.MethodPost, EmailWebhookPath, huge, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, f.mailer.calls)
}

func TestServiceEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.server.now = func() time.Time { return time.Date(2025, 12, 10, 19, 0, 0, 0, time.UTC) }

	rec := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "direct", body["integration_mode"])
	assert.Equal(t, "2025-12-10T19:00:00Z", body["timestamp"])

	rec = f.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], ScheduleWebhookPath)

	rec = f.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])

	rec = f.do(http.MethodGet, ScheduleWebhookPath, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	assert.Equal(t, "error", decode(t, rec)["status"])

	rec = f.do(http.MethodPost, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voicebridge_http_requests_total")
}

func TestCurrentTime(t *testing.T) {
	f := newFixture(t, nil)
	// Friday 2025-12-12 23:30 UTC is Saturday 09:30 in Brisbane
	f.server.now = func() time.Time { return time.Date(2025, 12, 12, 23, 30, 0, 0, time.UTC) }

	check := func(rec *httptest.ResponseRecorder) {
		t.Helper()
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp CurrentTimeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, "Australia/Brisbane", resp.CurrentTime.Timezone)
		assert.Equal(t, "+10:00", resp.CurrentTime.Offset)
		assert.Equal(t, 13, resp.CurrentTime.Day)
		assert.Equal(t, 9, resp.CurrentTime.Hour)
		assert.Equal(t, "Saturday", resp.CurrentTime.Weekday)
		assert.Equal(t, "2025-12-14", resp.RelativeDates["tomorrow"].Date)
		assert.Equal(t, "Sunday", resp.RelativeDates["tomorrow"].Weekday)
		assert.Equal(t, "2025-12-20", resp.RelativeDates["next_week"].Date)
		assert.False(t, resp.UsefulInfo.BusinessHours.IsBusinessHours)
		assert.Equal(t, "Monday", resp.UsefulInfo.BusinessHours.NextBusinessDay)
	}

	check(f.do(http.MethodGet, "/api/current-time?timezone=Australia/Brisbane", "", nil))
	check(f.do(http.MethodPost, "/api/current-time", `{"timezone":"Australia/Brisbane"}`, nil))

	rec := f.do(http.MethodGet, "/api/current-time", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"timezone":"America/New_York"`)

	rec = f.do(http.MethodGet, "/api/current-time?timezone=Not/AZone", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, EmailWebhookPath, "422")
	before := testutil.ToFloat64(counter)

	f.do(http.MethodPost, EmailWebhookPath, `{"recipient_email":"x"}`, nil)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRequestIDAssigned(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/health", "", nil)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	long := string(bytes.Repeat([]byte("x"), 200))
	rec = f.do(http.MethodGet, "/health", "", map[string]string{RequestIDHeader: long})
	assert.NotEqual(t, long, rec.Header().Get(RequestIDHeader))
}
