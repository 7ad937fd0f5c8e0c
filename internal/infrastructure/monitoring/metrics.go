package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Gateway metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ArchiveEntries    *prometheus.CounterVec
	ArchiveBytesTotal *prometheus.CounterVec
	UploadBytesTotal  prometheus.Counter
	CleanupFailures   prometheus.Counter
	ArchiveJobsActive prometheus.Gauge

	startTime time.Time

	// Snapshot for the health endpoint
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"totalRequests"`
	TotalErrors    int64   `json:"totalErrors"`
	ActiveArchives int64   `json:"activeArchives"`
	UploadedBytes  int64   `json:"uploadedBytes"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filegate_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filegate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filegate_operations_total",
				Help: "Gateway operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filegate_operation_duration_seconds",
				Help:    "Gateway operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30, 120},
			},
			[]string{"operation"},
		),
		ArchiveEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filegate_archive_entries_total",
				Help: "Archive entries by result",
			},
			[]string{"result"},
		),
		ArchiveBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filegate_archive_bytes_total",
				Help: "Bytes of finished archives",
			},
			[]string{"format"},
		),
		UploadBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "filegate_upload_bytes_total",
				Help: "Bytes written by uploads",
			},
		),
		CleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "filegate_temp_cleanup_failures_total",
				Help: "Temporary archive paths that could not be removed",
			},
		),
		ArchiveJobsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "filegate_archive_jobs_active",
				Help: "Archive jobs holding temporary files",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "filegate_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// ObserveOperation records a gateway operation outcome.
func (m *Metrics) ObserveOperation(op, outcome string, duration time.Duration) {
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ArchiveEntry counts one archive entry by result.
func (m *Metrics) ArchiveEntry(result string) {
	m.ArchiveEntries.WithLabelValues(result).Inc()
}

// ArchiveBytes adds the size of a finished archive.
func (m *Metrics) ArchiveBytes(format string, n int64) {
	m.ArchiveBytesTotal.WithLabelValues(format).Add(float64(n))
}

// UploadBytes adds bytes written by an upload.
func (m *Metrics) UploadBytes(n int64) {
	m.UploadBytesTotal.Add(float64(n))
	m.mu.Lock()
	m.snapshot.UploadedBytes += n
	m.mu.Unlock()
}

// TempCleanupFailed counts a temporary path left behind.
func (m *Metrics) TempCleanupFailed() {
	m.CleanupFailures.Inc()
}

// ArchiveJobStarted marks an archive job as holding temp files.
func (m *Metrics) ArchiveJobStarted() {
	m.ArchiveJobsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveArchives++
	m.mu.Unlock()
}

// ArchiveJobFinished marks an archive job's temp files as released.
func (m *Metrics) ArchiveJobFinished() {
	m.ArchiveJobsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveArchives--
	m.mu.Unlock()
}

// Snapshot returns current totals for the health endpoint.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
