package backend

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypete/voicebridge/pkg/calcom"
	"github.com/soypete/voicebridge/pkg/config"
	"github.com/soypete/voicebridge/pkg/graph"
	"github.com/soypete/voicebridge/pkg/logging"
	"github.com/soypete/voicebridge/pkg/mcp"
	"github.com/soypete/voicebridge/pkg/messaging"
	"github.com/soypete/voicebridge/pkg/scheduling"
	"github.com/soypete/voicebridge/pkg/tools"
)

type stubScheduler struct {
	got    scheduling.LocalBookingSlot
	result scheduling.BookingResult
}

func (s *stubScheduler) CreateBooking(_ context.Context, slot scheduling.LocalBookingSlot) scheduling.BookingResult {
	s.got = slot
	return s.result
}

func (s *stubScheduler) Name() string { return "stub" }

type stubMailer struct {
	got    messaging.EmailRequest
	result messaging.EmailResult
}

func (s *stubMailer) SendEmail(_ context.Context, req messaging.EmailRequest) messaging.EmailResult {
	s.got = req
	return s.result
}

func (s *stubMailer) Name() string { return "stub" }

type stubCaller struct {
	resp *mcp.ToolResponse
	err  error
	args map[string]interface{}
}

func (s *stubCaller) CallTool(_ context.Context, _ string, args map[string]interface{}) (*mcp.ToolResponse, error) {
	s.args = args
	return s.resp, s.err
}

func textResponse(text string, isError bool) *mcp.ToolResponse {
	return &mcp.ToolResponse{Content: []mcp.ContentBlock{{Type: "text", Text: text}}, IsError: isError}
}

func testSlot() scheduling.LocalBookingSlot {
	return scheduling.LocalBookingSlot{
		LocalDate:            "2025-11-02",
		LocalTime:            "01:30",
		LocalTimeZone:        "America/New_York",
		LocalUTCOffset:       "-05:00",
		AttendeeName:         "Jane Doe",
		AttendeeEmail:        "jane@example.com",
		EventTypeID:          1837761,
		EventDurationMinutes: 30,
		Guests:               []string{},
		Metadata:             map[string]interface{}{},
		Language:             "en",
	}
}

// startToolServer serves both tools over streamable HTTP
func startToolServer(t *testing.T, sched scheduling.Backend, mail messaging.Backend) string {
	t.Helper()
	server := mcp.NewServer("tools", "test", logging.Discard())
	server.RegisterTool(tools.NewCalComBookingTool(sched, 30, logging.Discard()))
	server.RegisterTool(tools.NewOutlookEmailTool(mail, logging.Discard()))
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestMCPScheduling_EndToEnd(t *testing.T) {
	sched := &stubScheduler{result: scheduling.BookingResult{
		Success:   true,
		Message:   "Booking created successfully",
		BookingID: "99",
		MeetURL:   "https://meet.example.com/abc",
	}}
	url := startToolServer(t, sched, &stubMailer{})

	backend := NewMCPScheduling(mcp.NewClient(url, nil), logging.Discard())
	res := backend.CreateBooking(context.Background(), testSlot())

	require.True(t, res.Success, res.ErrorDetails)
	assert.Equal(t, "99", res.BookingID)
	assert.Equal(t, "https://meet.example.com/abc", res.MeetURL)
	assert.Equal(t, "-05:00", sched.got.LocalUTCOffset, "offset hint must survive the hop")
	assert.Equal(t, "01:30", sched.got.LocalTime)
}

func TestMCPScheduling_ToolFailureKeepsDetails(t *testing.T) {
	sched := &stubScheduler{result: scheduling.Failed("Failed to create booking", "Cal.com API error: 409 - slot taken")}
	url := startToolServer(t, sched, &stubMailer{})

	backend := NewMCPScheduling(mcp.NewClient(url, nil), logging.Discard())
	res := backend.CreateBooking(context.Background(), testSlot())

	assert.False(t, res.Success)
	assert.Equal(t, "Failed to create booking", res.Message)
	assert.Contains(t, res.ErrorDetails, "409")
}

func TestMCPScheduling_Responses(t *testing.T) {
	tests := []struct {
		name        string
		caller      *stubCaller
		wantMessage string
	}{
		{
			name:        "transport error",
			caller:      &stubCaller{err: errors.New("connection refused")},
			wantMessage: "Failed to create booking via MCP",
		},
		{
			name:        "plain text tool error",
			caller:      &stubCaller{resp: textResponse("invalid arguments: attendeeEmail", true)},
			wantMessage: "invalid arguments: attendeeEmail",
		},
		{
			name:        "non JSON success text",
			caller:      &stubCaller{resp: textResponse("ok", false)},
			wantMessage: "Invalid response from Cal.com MCP tool",
		},
		{
			name:        "empty content",
			caller:      &stubCaller{resp: &mcp.ToolResponse{}},
			wantMessage: "Failed to create booking via MCP",
		},
		{
			name:        "isError overrides success flag",
			caller:      &stubCaller{resp: textResponse(`{"success":true,"message":"odd"}`, true)},
			wantMessage: "odd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewMCPScheduling(tt.caller, logging.Discard()).CreateBooking(context.Background(), testSlot())
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantMessage, res.Message)
			assert.Contains(t, tt.caller.args, "args")
		})
	}
}

func TestMCPMessaging_EndToEnd(t *testing.T) {
	save := false
	mail := &stubMailer{result: messaging.EmailResult{
		Success:   true,
		Message:   "Email sent successfully to bob@example.com",
		MessageID: "req-7",
	}}
	url := startToolServer(t, &stubScheduler{}, mail)

	backend := NewMCPMessaging(mcp.NewClient(url, nil), logging.Discard())
	res := backend.SendEmail(context.Background(), messaging.EmailRequest{
		RecipientEmail:  "bob@example.com",
		EmailSubject:    "Hi",
		EmailBodyHTML:   "<p>Hello</p>",
		SaveToSentItems: &save,
	})

	require.True(t, res.Success, res.ErrorDetails)
	assert.Equal(t, "req-7", res.MessageID)
	assert.Equal(t, "<p>Hello</p>", mail.got.EmailBodyHTML)
	assert.False(t, mail.got.ShouldSave())
}

func TestMCPMessaging_TransportError(t *testing.T) {
	res := NewMCPMessaging(&stubCaller{err: errors.New("dial tcp: refused")}, logging.Discard()).
		SendEmail(context.Background(), messaging.EmailRequest{RecipientEmail: "bob@example.com"})

	assert.False(t, res.Success)
	assert.Equal(t, "Failed to send email via MCP", res.Message)
	assert.Contains(t, res.ErrorDetails, "refused")
}

func TestUnavailable(t *testing.T) {
	u := Unavailable{Reason: "scheduling integration is missing CAL_COM_API_KEY"}

	booking := u.CreateBooking(context.Background(), testSlot())
	assert.False(t, booking.Success)
	assert.Equal(t, "Configuration error: scheduling integration is missing CAL_COM_API_KEY", booking.Message)

	email := u.SendEmail(context.Background(), messaging.EmailRequest{})
	assert.False(t, email.Success)
	assert.Equal(t, u.Message(), email.Message)
}

func loadConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	for _, key := range []string{"INTEGRATION_MODE", "CAL_COM_API_KEY", "AZURE_TENANT_ID", "AZURE_CLIENT_ID",
		"AZURE_CLIENT_SECRET", "SENDER_UPN", "CAL_COM_MCP_SERVER_URL", "OUTLOOK_MCP_SERVER_URL", "PORT",
		"DEFAULT_EVENT_TYPE_ID", "DEFAULT_EVENT_DURATION_MINUTES", "DEFAULT_TIMEZONE", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	mutate(cfg)
	return cfg
}

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*config.Config)
		wantScheduler interface{}
		wantMailer    interface{}
	}{
		{
			name:          "direct without credentials",
			mutate:        func(c *config.Config) {},
			wantScheduler: Unavailable{},
			wantMailer:    Unavailable{},
		},
		{
			name: "direct with credentials",
			mutate: func(c *config.Config) {
				c.CalCom.APIKey = "key"
				c.Graph.TenantID, c.Graph.ClientID, c.Graph.ClientSecret, c.Graph.SenderUPN = "t", "c", "s", "bot@example.com"
			},
			wantScheduler: &calcom.Client{},
			wantMailer:    &graph.Client{},
		},
		{
			name: "direct with only scheduling",
			mutate: func(c *config.Config) {
				c.CalCom.APIKey = "key"
			},
			wantScheduler: &calcom.Client{},
			wantMailer:    Unavailable{},
		},
		{
			name: "mcp mode",
			mutate: func(c *config.Config) {
				c.Integration.Mode = config.ModeMCP
				c.CalCom.MCPServerURL = "http://localhost:8001/mcp"
				c.Graph.MCPServerURL = "http://localhost:8002/mcp"
			},
			wantScheduler: &MCPScheduling{},
			wantMailer:    &MCPMessaging{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfig(t, tt.mutate)
			set := New(cfg, Deps{Logger: logging.Discard()})
			assert.IsType(t, tt.wantScheduler, set.Scheduling)
			assert.IsType(t, tt.wantMailer, set.Messaging)
		})
	}
}
