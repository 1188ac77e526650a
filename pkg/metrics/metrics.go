package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicebridge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicebridge_http_request_duration_seconds",
			Help:    "Webhook handling latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// OutboundRequestsTotal counts provider calls by outcome (success, failure, error)
	OutboundRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicebridge_outbound_requests_total",
			Help: "Total number of calls to scheduling and messaging providers",
		},
		[]string{"provider", "outcome"},
	)

	TokenFetchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voicebridge_token_fetches_total",
			Help: "Total number of OAuth2 access tokens fetched",
		},
	)
)

// Outcome labels for OutboundRequestsTotal
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration, OutboundRequestsTotal, TokenFetchesTotal)
}

// ObserveOutbound records one provider call
func ObserveOutbound(provider, outcome string) {
	OutboundRequestsTotal.WithLabelValues(provider, outcome).Inc()
}
