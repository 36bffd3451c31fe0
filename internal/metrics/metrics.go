// Package metrics exposes Prometheus metrics for analyses and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

const namespace = "ringwatch"

// Analysis outcome labels.
const (
	StatusOK      = "ok"
	StatusCached  = "cached"
	StatusInvalid = "invalid"
	StatusFailed  = "failed"
)

// Cache lookup labels.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics holds every collector on a private registry so several
// instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	analyses         *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	accounts         prometheus.Counter
	suspicious       prometheus.Counter
	rings            *prometheus.CounterVec
	coercions        *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Analyses by outcome",
		}, []string{"status"}),
		analysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Wall time of one file analysis",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		accounts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "accounts_total",
			Help:      "Accounts analyzed",
		}),
		suspicious: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "suspicious_accounts_total",
			Help:      "Accounts flagged at or above the adaptive threshold",
		}),
		rings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "rings_total",
			Help:      "Fraud rings detected by pattern",
		}, []string{"pattern"}),
		coercions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "coerced_values_total",
			Help:      "Input values that degraded to NaN or null",
		}, []string{"column"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by result",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAnalysis records a finished analysis. report may be nil for
// failed runs.
func (m *Metrics) ObserveAnalysis(status string, d time.Duration, report *domain.Report) {
	m.analyses.WithLabelValues(status).Inc()
	if status == StatusOK {
		m.analysisDuration.Observe(d.Seconds())
	}
	if report == nil || status != StatusOK {
		return
	}
	m.accounts.Add(float64(report.Summary.TotalAccountsAnalyzed))
	m.suspicious.Add(float64(report.Summary.SuspiciousAccountsFlagged))
	for _, r := range report.FraudRings {
		m.rings.WithLabelValues(domain.CleanPattern(r.PatternType)).Inc()
	}
}

// ObserveCoercion records non-fatal ingestion coercions.
func (m *Metrics) ObserveCoercion(c domain.CoercionStats) {
	if c.InvalidAmounts > 0 {
		m.coercions.WithLabelValues("amount").Add(float64(c.InvalidAmounts))
	}
	if c.InvalidTimestamps > 0 {
		m.coercions.WithLabelValues("timestamp").Add(float64(c.InvalidTimestamps))
	}
}

// ObserveCache records a result cache lookup.
func (m *Metrics) ObserveCache(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
