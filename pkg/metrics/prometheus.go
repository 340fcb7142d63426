// Package metrics provides Prometheus metrics for the calcstore service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Calculation lifecycle
	calculationsCreated prometheus.Counter
	calculationsDeleted prometheus.Counter
	calculationsRead    *prometheus.CounterVec
	calculationsTotal   prometheus.Gauge
	validationFailures  *prometheus.CounterVec

	// Storage
	storageLatency *prometheus.HistogramVec
	storageErrors  *prometheus.CounterVec
	storageUp      prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpPanics          prometheus.Counter
	rateLimitRejections prometheus.Counter

	// Errors
	errorRateByType     *prometheus.CounterVec
	errorRateByEndpoint *prometheus.CounterVec
	errorLatency        *prometheus.HistogramVec

	// Runtime
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "calcstore",
		subsystem:        "api",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval reports how often gauge updaters should run.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether recording functions should observe values.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.calculationsCreated = auto.NewCounter(m.counterOpts(
		"calculations_created_total", "Total number of calculations persisted"))
	m.calculationsDeleted = auto.NewCounter(m.counterOpts(
		"calculations_deleted_total", "Total number of calculations deleted"))
	m.calculationsRead = auto.NewCounterVec(m.counterOpts(
		"calculations_read_total", "Total number of calculation reads by kind (list, get)"),
		[]string{"kind"})
	m.calculationsTotal = auto.NewGauge(m.gaugeOpts(
		"calculations", "Number of calculation records currently stored"))
	m.validationFailures = auto.NewCounterVec(m.counterOpts(
		"validation_failures_total", "Rejected add requests by reason"),
		[]string{"reason"})

	m.storageLatency = auto.NewHistogramVec(m.histogramOpts(
		"storage_latency_milliseconds", "Storage operation latency in milliseconds"),
		[]string{"operation"})
	m.storageErrors = auto.NewCounterVec(m.counterOpts(
		"storage_errors_total", "Storage operation failures by operation"),
		[]string{"operation"})
	m.storageUp = auto.NewGauge(m.gaugeOpts(
		"storage_up", "1 when the last storage ping succeeded, 0 otherwise"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts(
		"http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts(
		"http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"})
	m.httpPanics = auto.NewCounter(m.counterOpts(
		"http_panics_total", "Handler panics converted to 500 responses"))
	m.rateLimitRejections = auto.NewCounter(m.counterOpts(
		"ratelimit_rejections_total", "Requests rejected by the rate limiter"))

	m.errorRateByType = auto.NewCounterVec(m.counterOpts(
		"errors_by_type_total", "Errors by type and severity"),
		[]string{"error_type", "severity"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts(
		"errors_by_endpoint_total", "Errors by endpoint, method and type"),
		[]string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogramOpts(
		"error_latency_milliseconds", "Latency of operations that ended in an error"),
		[]string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts(
		"system_memory_bytes", "Heap bytes allocated by the process"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts(
		"system_goroutines", "Number of live goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts(
		"system_gc_pause_milliseconds", "Average GC pause time in milliseconds"))
}

// Calculation lifecycle.

// RecordCalculationCreated increments the created counter.
func RecordCalculationCreated() {
	if globalManager.enabled {
		globalManager.calculationsCreated.Inc()
	}
}

// RecordCalculationDeleted increments the deleted counter.
func RecordCalculationDeleted() {
	if globalManager.enabled {
		globalManager.calculationsDeleted.Inc()
	}
}

// RecordCalculationRead counts a read; kind is "list" or "get".
func RecordCalculationRead(kind string) {
	if globalManager.enabled {
		globalManager.calculationsRead.WithLabelValues(kind).Inc()
	}
}

// UpdateCalculationsTotal sets the stored record gauge.
func UpdateCalculationsTotal(count int64) {
	globalManager.calculationsTotal.Set(float64(count))
}

// RecordValidationFailure counts a rejected add request.
func RecordValidationFailure(reason string) {
	if globalManager.enabled {
		globalManager.validationFailures.WithLabelValues(reason).Inc()
	}
}

// Storage.

// RecordStorageLatency observes the latency of one storage operation.
func RecordStorageLatency(operation string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.storageLatency.WithLabelValues(operation).Observe(latencyMs)
	}
}

// RecordStorageError counts a failed storage operation.
func RecordStorageError(operation string) {
	if globalManager.enabled {
		globalManager.storageErrors.WithLabelValues(operation).Inc()
	}
}

// UpdateStorageUp records the result of the last storage ping.
func UpdateStorageUp(up bool) {
	v := 0.0
	if up {
		v = 1
	}
	globalManager.storageUp.Set(v)
}

// HTTP.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration observes HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordHTTPPanic counts a recovered handler panic.
func RecordHTTPPanic() {
	globalManager.httpPanics.Inc()
}

// RecordRateLimitRejection counts a request rejected by the rate limiter.
func RecordRateLimitRejection() {
	if globalManager.enabled {
		globalManager.rateLimitRejections.Inc()
	}
}

// Errors.

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	if globalManager.enabled {
		globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
	}
}

// Runtime.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// SetEnabled toggles recording on the global manager.
func SetEnabled(enabled bool) {
	globalManager.enabled = enabled
}

// RefreshInterval reports how often the global manager's gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.RefreshInterval()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
