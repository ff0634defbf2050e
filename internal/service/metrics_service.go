package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// registrar API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	decisionTotal   *prometheus.CounterVec
	ruleViolations  *prometheus.CounterVec
	lockWait        prometheus.Observer
	retryTotal      prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	decisionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_decisions_total",
		Help: "Enrollment requests by final decision",
	}, []string{"decision"})

	ruleViolations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_rule_violations_total",
		Help: "Enrollment rejections by blocking rule",
	}, []string{"rule"})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "section_lock_wait_seconds",
		Help:    "Time spent waiting on section row locks",
		Buckets: prometheus.DefBuckets,
	})

	retryTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollment_retries_total",
		Help: "Enrollment transaction retries after lock timeouts or conflicts",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, decisionTotal, ruleViolations, lockWait, retryTotal, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		decisionTotal:   decisionTotal,
		ruleViolations:  ruleViolations,
		lockWait:        lockWait,
		retryTotal:      retryTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
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
}

// ObserveDecision counts one enrollment outcome and, for rejections,
// the blocking rule.
func (m *MetricsService) ObserveDecision(decision, rule string) {
	if m == nil {
		return
	}
	m.decisionTotal.WithLabelValues(decision).Inc()
	if rule != "" {
		m.ruleViolations.WithLabelValues(rule).Inc()
	}
}

// ObserveLockWait records time spent acquiring a section lock.
func (m *MetricsService) ObserveLockWait(duration time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
}

// ObserveRetry counts one retried enrollment transaction.
func (m *MetricsService) ObserveRetry() {
	if m == nil {
		return
	}
	m.retryTotal.Inc()
}

// RecordCacheOperation counts a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
