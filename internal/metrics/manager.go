package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/kvscope/kvscope/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager defines the interface for metrics management. It satisfies
// browser.Metrics so a session can report straight into it.
type Manager interface {
	// HTTP Metrics
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// Key store Metrics
	RecordStoreOperation(operation string, success bool, duration time.Duration)

	// Browser Metrics
	RecordScan(success bool, duration time.Duration)
	RecordTypeLookup(outcome string, duration time.Duration)
	RecordCacheLookup(cache string, hit bool)
	RecordPageLoad(direction, source string, success bool, duration time.Duration)
	RecordGuardTimeout()
	RecordStaleResult()
	UpdateCacheSize(cache string, entries int)

	// Export and Health
	GetMetricsHandler() http.Handler
	GetMetricsSnapshot() (map[string]interface{}, error)
	IsHealthy() bool

	// HTTP Middleware
	Middleware() func(http.Handler) http.Handler

	// Lifecycle
	Start(ctx context.Context) error
	Stop() error
}

// metricsManager implements the Manager interface using Prometheus
type metricsManager struct {
	namespace string
	registry  *prometheus.Registry

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Key store Metrics
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec

	// Browser Metrics
	scansTotal         *prometheus.CounterVec
	scanDuration       prometheus.Histogram
	typeLookupsTotal   *prometheus.CounterVec
	typeLookupDuration prometheus.Histogram
	cacheLookupsTotal  *prometheus.CounterVec
	cacheEntries       *prometheus.GaugeVec
	pageLoadsTotal     *prometheus.CounterVec
	pageLoadDuration   *prometheus.HistogramVec
	guardTimeoutsTotal prometheus.Counter
	staleResultsTotal  prometheus.Counter

	latency *LatencyWindow

	// Lifecycle
	started bool
	mu      sync.RWMutex
}

// NewManager creates a new metrics manager
func NewManager(cfg config.MetricsConfig) Manager {
	if !cfg.Enable {
		return &noopManager{}
	}

	manager := &metricsManager{
		namespace: "kvscope",
		registry:  prometheus.NewRegistry(),
		latency:   NewLatencyWindow(1000, 15*time.Minute),
	}

	manager.initializeMetrics()
	manager.registerMetrics()
	return manager
}

// initializeMetrics sets up all Prometheus metrics
func (m *metricsManager) initializeMetrics() {
	namespace := m.namespace

	// HTTP Metrics
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Key store Metrics
	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of key store operations",
		},
		[]string{"operation", "status"},
	)

	m.storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Key store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Browser Metrics
	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "scans_total",
			Help:      "Total number of scan calls issued",
		},
		[]string{"status"},
	)

	m.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "scan_duration_seconds",
			Help:      "Scan call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.typeLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "type_lookups_total",
			Help:      "Total number of key type lookups by outcome",
		},
		[]string{"outcome"},
	)

	m.typeLookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "type_lookup_duration_seconds",
			Help:      "Key type lookup duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	m.cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "cache_lookups_total",
			Help:      "Total number of cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	m.cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "cache_entries",
			Help:      "Number of entries held by each cache",
		},
		[]string{"cache"},
	)

	m.pageLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "page_loads_total",
			Help:      "Total number of page loads by direction, source and status",
		},
		[]string{"direction", "source", "status"},
	)

	m.pageLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "page_load_duration_seconds",
			Help:      "Page load duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"direction", "source"},
	)

	m.guardTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "load_guard_timeouts_total",
			Help:      "Total number of page loads force-released by the load guard",
		},
	)

	m.staleResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "stale_results_total",
			Help:      "Total number of load results discarded as stale",
		},
	)
}

// registerMetrics registers all metrics with the registry
func (m *metricsManager) registerMetrics() {
	metrics := []prometheus.Collector{
		// HTTP
		m.httpRequestsTotal,
		m.httpRequestDuration,

		// Store
		m.storeOperationsTotal,
		m.storeOperationDuration,

		// Browser
		m.scansTotal,
		m.scanDuration,
		m.typeLookupsTotal,
		m.typeLookupDuration,
		m.cacheLookupsTotal,
		m.cacheEntries,
		m.pageLoadsTotal,
		m.pageLoadDuration,
		m.guardTimeoutsTotal,
		m.staleResultsTotal,
	}

	for _, metric := range metrics {
		m.registry.MustRegister(metric)
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// HTTP Metrics Implementation

func (m *metricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Key store Metrics Implementation

func (m *metricsManager) RecordStoreOperation(operation string, success bool, duration time.Duration) {
	m.storeOperationsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
	m.storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.latency.Record(OpStore, duration, success)
}

// Browser Metrics Implementation

func (m *metricsManager) RecordScan(success bool, duration time.Duration) {
	m.scansTotal.WithLabelValues(statusLabel(success)).Inc()
	m.scanDuration.Observe(duration.Seconds())
	m.latency.Record(OpScan, duration, success)
}

func (m *metricsManager) RecordTypeLookup(outcome string, duration time.Duration) {
	m.typeLookupsTotal.WithLabelValues(outcome).Inc()
	m.typeLookupDuration.Observe(duration.Seconds())
	m.latency.Record(OpTypeLookup, duration, outcome == "resolved")
}

func (m *metricsManager) RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

func (m *metricsManager) RecordPageLoad(direction, source string, success bool, duration time.Duration) {
	m.pageLoadsTotal.WithLabelValues(direction, source, statusLabel(success)).Inc()
	m.pageLoadDuration.WithLabelValues(direction, source).Observe(duration.Seconds())
	m.latency.Record(OpPageLoad, duration, success)
}

func (m *metricsManager) RecordGuardTimeout() {
	m.guardTimeoutsTotal.Inc()
}

func (m *metricsManager) RecordStaleResult() {
	m.staleResultsTotal.Inc()
}

func (m *metricsManager) UpdateCacheSize(cache string, entries int) {
	m.cacheEntries.WithLabelValues(cache).Set(float64(entries))
}

// Export and Health Implementation

func (m *metricsManager) GetMetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GetMetricsSnapshot sums every counter and gauge series per metric name
func (m *metricsManager) GetMetricsSnapshot() (map[string]interface{}, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	values := make(map[string]float64, len(families))
	for _, family := range families {
		var total float64
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
		values[family.GetName()] = total
	}

	return map[string]interface{}{
		"timestamp": time.Now().Unix(),
		"namespace": m.namespace,
		"values":    values,
		"latency":   m.latency.AllStats(),
	}, nil
}

func (m *metricsManager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// HTTP Middleware Implementation

// Middleware records every request. Under a mux router the route template is
// used as the path label to keep cardinality bounded.
func (m *metricsManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordHTTPRequest(r.Method, routePath(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// Lifecycle Implementation

func (m *metricsManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("metrics manager already started")
	}

	m.started = true
	return nil
}

func (m *metricsManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return fmt.Errorf("metrics manager not started")
	}

	m.started = false
	return nil
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// noopManager is a no-op implementation of Manager when metrics are disabled
type noopManager struct{}

func (n *noopManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *noopManager) RecordStoreOperation(operation string, success bool, duration time.Duration) {
}
func (n *noopManager) RecordScan(success bool, duration time.Duration)         {}
func (n *noopManager) RecordTypeLookup(outcome string, duration time.Duration) {}
func (n *noopManager) RecordCacheLookup(cache string, hit bool)                {}
func (n *noopManager) RecordPageLoad(direction, source string, success bool, duration time.Duration) {
}
func (n *noopManager) RecordGuardTimeout()                       {}
func (n *noopManager) RecordStaleResult()                        {}
func (n *noopManager) UpdateCacheSize(cache string, entries int) {}
func (n *noopManager) GetMetricsHandler() http.Handler           { return http.NotFoundHandler() }
func (n *noopManager) GetMetricsSnapshot() (map[string]interface{}, error) {
	return nil, fmt.Errorf("metrics disabled")
}
func (n *noopManager) IsHealthy() bool { return true }
func (n *noopManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
func (n *noopManager) Start(ctx context.Context) error { return nil }
func (n *noopManager) Stop() error                     { return nil }
