package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/campus-invoicing-api/internal/models"
)

// MetricsService owns the Prometheus registry of the process. It is constructed once in main
// and injected into the components that record into it.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	transitions          *prometheus.CounterVec
	sideEffectFailures   *prometheus.CounterVec
	accountsProvisioned  *prometheus.CounterVec
	compensationFailures prometheus.Counter
	remindersFired       *prometheus.CounterVec
	loginFailures        prometheus.Counter
	lockouts             prometheus.Counter
	jobsProcessed        *prometheus.CounterVec

	cacheHitCount         uint64
	cacheMissCount        uint64
	requestCount          uint64
	requestDurationTotal  uint64
	transitionCount       uint64
	degradedCount         uint64
	compensationFailCount uint64
	loginFailureCount     uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_transitions_total",
			Help: "Invoice workflow transitions by action and outcome",
		}, []string{"action", "outcome"}),
		sideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Best-effort follow-ups that failed after a committed change",
		}, []string{"name"}),
		accountsProvisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provisioning_accounts_total",
			Help: "Account creation attempts by outcome",
		}, []string{"outcome"}),
		compensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provisioning_compensation_failures_total",
			Help: "Orphaned identities whose removal exhausted every retry",
		}),
		remindersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_fired_total",
			Help: "Reminder runs claimed and executed by kind",
		}, []string{"kind"}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_login_failures_total",
			Help: "Rejected login attempts",
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_lockouts_total",
			Help: "Login attempts refused because the account is locked out",
		}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Background jobs by type and outcome",
		}, []string{"type", "outcome"}),
	}

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})
	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})
	m.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})
	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_hits_total", Help: "Total cache hits"})
	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "cache_misses_total", Help: "Total cache misses"})
	m.cacheLatency = cacheLatency
	m.cacheWrite = cacheWrite

	registry.MustRegister(
		m.requestDuration, m.requestTotal, cacheLatency, cacheWrite, m.cacheHitRatio, m.cacheHits, m.cacheMisses,
		m.transitions, m.sideEffectFailures, m.accountsProvisioned, m.compensationFailures,
		m.remindersFired, m.loginFailures, m.lockouts, m.jobsProcessed,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordTransition counts a workflow transition. outcome is "ok", "degraded" or an error code.
func (m *MetricsService) RecordTransition(action models.InvoiceAction, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(action), outcome).Inc()
	atomic.AddUint64(&m.transitionCount, 1)
	if outcome == "degraded" {
		atomic.AddUint64(&m.degradedCount, 1)
	}
}

// RecordSideEffectFailure counts a failed best-effort follow-up.
func (m *MetricsService) RecordSideEffectFailure(name string) {
	if m == nil {
		return
	}
	m.sideEffectFailures.WithLabelValues(name).Inc()
}

// RecordAccount counts an account creation attempt.
func (m *MetricsService) RecordAccount(outcome string) {
	if m == nil {
		return
	}
	m.accountsProvisioned.WithLabelValues(outcome).Inc()
}

// RecordCompensationFailure counts a compensation that exhausted its retries.
func (m *MetricsService) RecordCompensationFailure() {
	if m == nil {
		return
	}
	m.compensationFailures.Inc()
	atomic.AddUint64(&m.compensationFailCount, 1)
}

// RecordReminder counts a fired reminder.
func (m *MetricsService) RecordReminder(kind models.ReminderKind) {
	if m == nil {
		return
	}
	m.remindersFired.WithLabelValues(string(kind)).Inc()
}

// RecordLoginFailure counts a rejected login; locked marks refusals due to lockout.
func (m *MetricsService) RecordLoginFailure(locked bool) {
	if m == nil {
		return
	}
	if locked {
		m.lockouts.Inc()
		return
	}
	m.loginFailures.Inc()
	atomic.AddUint64(&m.loginFailureCount, 1)
}

// RecordJob counts a processed background job.
func (m *MetricsService) RecordJob(jobType, outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, outcome).Inc()
}

// Snapshot returns aggregated counters for the admin metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            cacheRatio,
		Transitions:              atomic.LoadUint64(&m.transitionCount),
		DegradedTransitions:      atomic.LoadUint64(&m.degradedCount),
		CompensationFailures:     atomic.LoadUint64(&m.compensationFailCount),
		LoginFailures:            atomic.LoadUint64(&m.loginFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
