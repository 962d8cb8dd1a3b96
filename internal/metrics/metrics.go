package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Recorder is the set of measurements the services report.
type Recorder interface {
	// RecordIdentityOutcome counts a resolved login, link or unlink outcome
	// (for example "login_existing_link" or "link_conflict").
	RecordIdentityOutcome(outcome string)
	// RecordProviderCall measures one call to the Spotify accounts service or Web API.
	RecordProviderCall(operation string, success bool, duration time.Duration)
	// RecordTokenRefresh counts provider token refresh attempts.
	RecordTokenRefresh(success bool)
	// RecordSessionIssued counts session tokens by the method that authenticated the user.
	RecordSessionIssued(method string)
	// RecordHTTPRequest measures one served HTTP request.
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	registry *prometheus.Registry

	IdentityOutcomesTotal *prometheus.CounterVec
	ProviderCallsTotal    *prometheus.CounterVec
	ProviderCallDuration  *prometheus.HistogramVec
	TokenRefreshesTotal   *prometheus.CounterVec
	SessionsIssuedTotal   *prometheus.CounterVec
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New returns the Prometheus recorder when enabled and a no-op recorder otherwise.
func New(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}
	return NewPrometheus(prometheus.NewRegistry())
}

// NewPrometheus registers every collector on the given registry.
func NewPrometheus(registry *prometheus.Registry) *Metrics {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		IdentityOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicswipe_identity_outcomes_total",
				Help: "Resolved Spotify login, link and unlink outcomes",
			},
			[]string{"outcome"},
		),
		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicswipe_spotify_calls_total",
				Help: "Calls made to Spotify",
			},
			[]string{"operation", "result"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musicswipe_spotify_call_duration_seconds",
				Help:    "Latency of calls made to Spotify",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		TokenRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicswipe_spotify_token_refreshes_total",
				Help: "Spotify access token refresh attempts",
			},
			[]string{"result"},
		),
		SessionsIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicswipe_sessions_issued_total",
				Help: "Session tokens issued",
			},
			[]string{"method"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicswipe_http_requests_total",
				Help: "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musicswipe_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordIdentityOutcome(outcome string) {
	m.IdentityOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordProviderCall(operation string, success bool, duration time.Duration) {
	m.ProviderCallsTotal.WithLabelValues(operation, result(success)).Inc()
	m.ProviderCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordTokenRefresh(success bool) {
	m.TokenRefreshesTotal.WithLabelValues(result(success)).Inc()
}

func (m *Metrics) RecordSessionIssued(method string) {
	m.SessionsIssuedTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func result(success bool) string {
	if success {
		return resultSuccess
	}
	return resultFailure
}
