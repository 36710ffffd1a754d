// Package metrics holds the Prometheus collectors for request guards,
// submissions, logins and notifications.
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

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	guardOutcomes        *prometheus.CounterVec
	submissions          *prometheus.CounterVec
	logins               *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		guardOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crewfront_guard_outcomes_total",
			Help: "Form requests by guard step outcome",
		}, []string{"endpoint", "outcome"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crewfront_submissions_total",
			Help: "Persisted form submissions",
		}, []string{"kind"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crewfront_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		notificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crewfront_notification_failures_total",
			Help: "Notification emails that could not be delivered",
		}, []string{"kind"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crewfront_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// GuardOutcome counts one guard decision for an endpoint.
func (m *Metrics) GuardOutcome(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.guardOutcomes.WithLabelValues(endpoint, outcome).Inc()
}

// Submission counts a persisted submission.
func (m *Metrics) Submission(kind string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind).Inc()
}

// Login counts a finished login attempt.
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// NotificationFailed counts a dropped notification.
func (m *Metrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(kind).Inc()
}

// ObserveRequest records the latency of a finished request. route is the
// matched mux pattern, never the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
