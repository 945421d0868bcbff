package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	syncsTotal         *prometheus.CounterVec
	activitiesImported prometheus.Counter
	activitiesSkipped  prometheus.Counter
	tokenRequests      *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerlink_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerlink_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	syncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerlink_account_syncs_total",
		Help: "Account sync runs by outcome.",
	}, []string{"outcome"})
	imported := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerlink_activities_imported_total",
		Help: "Ledger activities imported by the sync pipeline.",
	})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledgerlink_activities_skipped_total",
		Help: "Transactions skipped by the sync pipeline.",
	})
	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerlink_token_requests_total",
		Help: "Aggregator token endpoint calls by operation and outcome.",
	}, []string{"op", "outcome"})
	registry.MustRegister(requests, duration, syncs, imported, skipped, tokens)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		syncsTotal:         syncs,
		activitiesImported: imported,
		activitiesSkipped:  skipped,
		tokenRequests:      tokens,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveSync records the outcome of one account sync run.
func (m *Metrics) ObserveSync(imported, skipped int, failed bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	m.syncsTotal.WithLabelValues(outcome).Inc()
	m.activitiesImported.Add(float64(imported))
	m.activitiesSkipped.Add(float64(skipped))
}

// ObserveTokenRequest records one aggregator token endpoint call.
func (m *Metrics) ObserveTokenRequest(op string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.tokenRequests.WithLabelValues(op, outcome).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
