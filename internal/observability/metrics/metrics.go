// Package metrics exposes Prometheus collectors for session state, role lookups,
// route guard decisions and HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domainauth "github.com/puppy-social/puppy/internal/domain/auth"
	obserrors "github.com/puppy-social/puppy/internal/observability/errors"
	"github.com/puppy-social/puppy/internal/routeguard"
)

// Result constants for metric labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const namespace = "puppy"

// Metrics holds the application's collectors. The zero value is not usable; use New.
type Metrics struct {
	sessionEvents   *prometheus.CounterVec
	roleLookups     *prometheus.CounterVec
	sessionResolved prometheus.Gauge
	routeDecisions  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session change notifications received, by event kind.",
		}, []string{"event"}),
		roleLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_lookups_total",
			Help:      "Role lookups, by result. Failed lookups leave the actor unprivileged.",
		}, []string{"result", "error_class"}),
		sessionResolved: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_resolved",
			Help:      "1 once the initial session fetch has completed.",
		}),
		routeDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Route guard decisions, by guard state and outcome.",
		}, []string{"state", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}
}

// SessionEvent counts a session change notification.
func (m *Metrics) SessionEvent(kind domainauth.EventKind) {
	m.sessionEvents.WithLabelValues(string(kind)).Inc()
}

// RoleLookup counts a role lookup and classifies its error.
func (m *Metrics) RoleLookup(err error) {
	if err == nil {
		m.roleLookups.WithLabelValues(ResultSuccess, "").Inc()
		return
	}
	m.roleLookups.WithLabelValues(ResultError, obserrors.Classify(err)).Inc()
}

// Resolved marks the initial session fetch as complete.
func (m *Metrics) Resolved(bool) {
	m.sessionResolved.Set(1)
}

// RouteDecision counts a guard decision.
func (m *Metrics) RouteDecision(d routeguard.Decision) {
	m.routeDecisions.WithLabelValues(string(d.State), string(d.Outcome)).Inc()
}

// HTTPRequest records one served request. Route is the matched pattern, not the raw path.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
