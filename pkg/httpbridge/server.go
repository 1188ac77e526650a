// Package httpbridge serves the voice agent webhooks and forwards them to the
// scheduling and messaging backends.
package httpbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soypete/voicebridge/pkg/backend"
	"github.com/soypete/voicebridge/pkg/config"
	"github.com/soypete/voicebridge/pkg/events"
	"github.com/soypete/voicebridge/pkg/scheduling"
)

// Webhook paths
const (
	ScheduleWebhookPath = "/webhook/cal/schedule_consultation"
	EmailWebhookPath    = "/webhook/outlook/send_email"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Options configures a Server
type Options struct {
	Config    *config.Config
	Backends  backend.Set
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	translator *scheduling.Translator
	backends   backend.Set
	publisher  events.Publisher
	schemas    *schemas
	logger     *slog.Logger
	mux        *http.ServeMux
	now        func() time.Time

	// publishing tracks outcome events still in flight
	publishing sync.WaitGroup
}

// NewServer creates a new HTTP server
func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NewFallback(opts.Logger)
	}

	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	server := &Server{
		config:     cfg,
		translator: scheduling.NewTranslator(cfg.Time.DefaultTimezone, cfg.CalCom.EventTypeID, cfg.CalCom.DurationMinutes),
		backends:   opts.Backends,
		publisher:  opts.Publisher,
		schemas:    compiled,
		logger:     opts.Logger,
		mux:        http.NewServeMux(),
		now:        time.Now,
	}

	server.setupRoutes()

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.handle(ScheduleWebhookPath, s.requireSignature(http.HandlerFunc(s.handleSchedule)), http.MethodPost)
	s.handle(EmailWebhookPath, s.requireSignature(http.HandlerFunc(s.handleEmail)), http.MethodPost)
	s.handle("/health", http.HandlerFunc(s.handleHealth), http.MethodGet)
	s.handle("/api/current-time", http.HandlerFunc(s.handleCurrentTime), http.MethodGet, http.MethodPost)
	// "/" also catches unknown paths, so it checks the path before the method
	s.mux.Handle("/", s.instrument("/", http.HandlerFunc(s.handleIndex)))

	s.mux.Handle("/metrics", promhttp.Handler())
}

// handle registers h under path with method filtering and instrumentation
func (s *Server) handle(path string, h http.Handler, methods ...string) {
	s.mux.Handle(path, s.instrument(path, allowMethods(methods, h)))
}

// Handler returns the root handler with request ids applied
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

// Run starts the HTTP server and shuts it down when ctx ends
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr, "mode", s.config.Integration.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.Wait()
	return nil
}

// Wait blocks until outcome events started by earlier requests are published
// or have timed out
func (s *Server) Wait() {
	s.publishing.Wait()
}
