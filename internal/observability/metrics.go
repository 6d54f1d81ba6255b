package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the access service.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	cacheLookups     *prometheus.CounterVec
	jobsProcessed    *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
}

// NewMetrics initialises the registry and the core metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_authz_decisions_total",
		Help: "Authorization decisions by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "access_authz_decision_duration_seconds",
		Help:    "Latency of authorization decisions.",
		Buckets: prometheus.DefBuckets,
	})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_authz_cache_lookups_total",
		Help: "Effective permission cache lookups by result.",
	}, []string{"result"})
	jobsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_jobs_processed_total",
		Help: "Background jobs handled, by task type and status.",
	}, []string{"type", "status"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "access_job_duration_seconds",
		Help:    "Latency of background job handlers.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	registry.MustRegister(decisions, duration, cacheLookups, jobsProcessed, jobDuration)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		decisionsTotal:   decisions,
		decisionDuration: duration,
		cacheLookups:     cacheLookups,
		jobsProcessed:    jobsProcessed,
		jobDuration:      jobDuration,
	}
}

// ObserveDecision records a finished authorization decision.
func (m *Metrics) ObserveDecision(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.decisionDuration.Observe(elapsed.Seconds())
}

// ObserveCacheLookup records an effective-permission cache lookup.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveJob records a finished background job handler run.
func (m *Metrics) ObserveJob(taskType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobsProcessed.WithLabelValues(taskType, status).Inc()
	m.jobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
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

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}
