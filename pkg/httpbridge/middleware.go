package httpbridge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soypete/voicebridge/pkg/logging"
	"github.com/soypete/voicebridge/pkg/metrics"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// signatureHeaders are checked in order; the first present one is used
var signatureHeaders = []string{"x-webhook-signature", "x-elevenlabs-signature", "x-signature"}

type requestIDKey struct{}

// requestID returns the id assigned by withRequestID
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// withRequestID reuses a sane inbound X-Request-ID or assigns a new one, and
// attaches a logger carrying it
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = logging.ContextWithLogger(ctx, s.logger.With("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records request metrics under route and logs one line per request
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		label := route
		if route == "/" && r.URL.Path != "/" {
			label = "other"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(label).Observe(elapsed.Seconds())

		logging.FromContext(r.Context(), s.logger).InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed)
	})
}

// allowMethods answers 405 with a JSON body for any method not listed
func allowMethods(methods []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range methods {
			if r.Method == m {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Allow", strings.Join(methods, ", "))
		respondJSON(w, http.StatusMethodNotAllowed, WebhookResponse{
			Status:  statusError,
			Message: "Method not allowed",
		})
	})
}

// requireSignature verifies hex(HMAC-SHA256(body)) when a webhook secret is
// configured. The body is restored for the next handler.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.config.Webhook.Secret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, ok := readBody(w, r)
		if !ok {
			return
		}

		var signature string
		for _, h := range signatureHeaders {
			if v := r.Header.Get(h); v != "" {
				signature = v
				break
			}
		}

		logger := logging.FromContext(r.Context(), s.logger)
		if signature == "" {
			logger.WarnContext(r.Context(), "webhook signature missing")
			respondJSON(w, http.StatusUnauthorized, WebhookResponse{Status: statusError, Message: "Missing webhook signature"})
			return
		}
		if !validSignature(secret, body, signature) {
			logger.WarnContext(r.Context(), "webhook signature invalid")
			respondJSON(w, http.StatusUnauthorized, WebhookResponse{Status: statusError, Message: "Invalid webhook signature"})
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// Sign returns the signature header value for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// readBody reads at most maxBodyBytes, answering 413 or 400 itself on failure
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, WebhookResponse{Status: statusError, Message: "Request body too large"})
			return nil, false
		}
		respondJSON(w, http.StatusBadRequest, WebhookResponse{Status: statusError, Message: "Failed to read request body"})
		return nil, false
	}
	return body, true
}
