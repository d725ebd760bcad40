// Package metrics holds the console's prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the console exports.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	apiRequestsTotal    *prometheus.CounterVec
	apiRequestDuration  *prometheus.HistogramVec
	refreshTotal        *prometheus.CounterVec
	logoutsTotal        prometheus.Counter
	redirectsTotal      prometheus.Counter
	bootstrapsTotal     *prometheus.CounterVec
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "console_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_http_requests_total",
			Help: "Total number of HTTP requests served by the console.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "console_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		apiRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_api_requests_total",
			Help: "Backend API round trips by normalized path and status.",
		}, []string{"method", "path", "status"}),
		apiRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "console_api_request_duration_seconds",
			Help:    "Backend API latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_token_refresh_total",
			Help: "401 recoveries by outcome.",
		}, []string{"outcome"}),
		logoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "console_forced_logouts_total",
			Help: "Sessions torn down after a failed refresh.",
		}),
		redirectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "console_gate_redirects_total",
			Help: "Unauthenticated sessions sent to the login page.",
		}),
		bootstrapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_bootstraps_total",
			Help: "Session bootstraps by authentication result.",
		}, []string{"authenticated"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.apiRequestsTotal,
		m.apiRequestDuration,
		m.refreshTotal,
		m.logoutsTotal,
		m.redirectsTotal,
		m.bootstrapsTotal,
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InFlight is incremented for the duration of a request.
func (m *Metrics) InFlight() prometheus.Gauge { return m.httpInFlight }

// ObserveHTTP records one served request. path should be the route template.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}

// ObserveAPI records one backend round trip. Status 0 means a transport error.
func (m *Metrics) ObserveAPI(method, path string, status int, elapsed time.Duration) {
	path = NormalizePath(path)
	m.apiRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.apiRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Refresh counts a 401 recovery outcome.
func (m *Metrics) Refresh(outcome string) { m.refreshTotal.WithLabelValues(outcome).Inc() }

// RefreshCount returns the counter for outcome.
func (m *Metrics) RefreshCount(outcome string) prometheus.Counter {
	return m.refreshTotal.WithLabelValues(outcome)
}

// Logout counts a forced logout.
func (m *Metrics) Logout() { m.logoutsTotal.Inc() }

// Redirect counts a gate redirect.
func (m *Metrics) Redirect() { m.redirectsTotal.Inc() }

// Bootstrap counts a finished bootstrap.
func (m *Metrics) Bootstrap(authenticated bool) {
	m.bootstrapsTotal.WithLabelValues(strconv.FormatBool(authenticated)).Inc()
}

// collections are path segments followed by an identifier.
var collections = map[string]bool{
	"organizations": true,
	"members":       true,
	"invitations":   true,
	"users":         true,
}

// NormalizePath collapses the identifier after each collection segment to
// ":id" so that label cardinality stays bounded. "me" is kept.
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" || parts[i] == "me" || !collections[parts[i-1]] {
			continue
		}
		parts[i] = ":id"
	}
	return strings.Join(parts, "/")
}
