// Package metrics provides Prometheus metrics for the Fetcharr service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager holds all Prometheus collectors for the service. Collectors
// are registered against a custom registry so that the /metrics output
// is not polluted with the default Go collector series.
type Manager struct {
	registry prometheus.Registerer

	downloadsQueued    prometheus.Counter
	downloadsCompleted prometheus.Counter
	downloadsTroubled  prometheus.Counter
	downloadsCancelled prometheus.Counter
	activeDownloads    prometheus.Gauge

	transcodesCompleted prometheus.Counter
	transcodesTroubled  prometheus.Counter
	activeTranscodes    prometheus.Gauge
	consumedThreads     prometheus.Gauge

	artifactsLive    prometheus.Gauge
	artifactsExpired prometheus.Counter
	filesServed      prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	socketClients prometheus.Gauge
}

var globalManager *Manager

var customRegistry = prometheus.NewRegistry()

func init() {
	globalManager = NewManager(customRegistry)
}

// NewManager creates a metrics manager whose collectors are registered
// on the registry provided.
func NewManager(registry prometheus.Registerer) *Manager {
	m := &Manager{registry: registry}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	namespace := "fetcharr"

	m.downloadsQueued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_queued_total",
		Help:      "Total number of download requests accepted",
	})

	m.downloadsCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_completed_total",
		Help:      "Total number of downloads which transferred successfully",
	})

	m.downloadsTroubled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_troubled_total",
		Help:      "Total number of downloads which failed and are awaiting resolution",
	})

	m.downloadsCancelled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_cancelled_total",
		Help:      "Total number of downloads cancelled by the user",
	})

	m.activeDownloads = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_downloads",
		Help:      "Number of downloads currently transferring",
	})

	m.transcodesCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcodes_completed_total",
		Help:      "Total number of transcodes which completed and were persisted",
	})

	m.transcodesTroubled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcodes_troubled_total",
		Help:      "Total number of transcodes which failed",
	})

	m.activeTranscodes = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_transcodes",
		Help:      "Number of ffmpeg processes currently running",
	})

	m.consumedThreads = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transcode_consumed_threads",
		Help:      "Number of threads consumed from the transcode budget",
	})

	m.artifactsLive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "artifacts_live",
		Help:      "Number of artifacts currently stored on disk",
	})

	m.artifactsExpired = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifacts_expired_total",
		Help:      "Total number of artifacts reaped by the cleanup service",
	})

	m.filesServed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_served_total",
		Help:      "Total number of artifact files served to clients",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.socketClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "socket_clients",
		Help:      "Number of connected activity websocket clients",
	})
}

// RecordDownloadQueued increments the accepted downloads counter.
func RecordDownloadQueued() {
	globalManager.downloadsQueued.Inc()
}

// RecordDownloadCompleted increments the completed downloads counter.
func RecordDownloadCompleted() {
	globalManager.downloadsCompleted.Inc()
}

// RecordDownloadTroubled increments the troubled downloads counter.
func RecordDownloadTroubled() {
	globalManager.downloadsTroubled.Inc()
}

// RecordDownloadCancelled increments the cancelled downloads counter.
func RecordDownloadCancelled() {
	globalManager.downloadsCancelled.Inc()
}

// UpdateActiveDownloads sets the number of in-flight downloads.
func UpdateActiveDownloads(count int) {
	globalManager.activeDownloads.Set(float64(count))
}

// RecordTranscodeCompleted increments the completed transcodes counter.
func RecordTranscodeCompleted() {
	globalManager.transcodesCompleted.Inc()
}

// RecordTranscodeTroubled increments the failed transcodes counter.
func RecordTranscodeTroubled() {
	globalManager.transcodesTroubled.Inc()
}

// UpdateActiveTranscodes sets the number of running ffmpeg processes.
func UpdateActiveTranscodes(count int) {
	globalManager.activeTranscodes.Set(float64(count))
}

// UpdateConsumedThreads sets the consumed transcode thread budget.
func UpdateConsumedThreads(count int) {
	globalManager.consumedThreads.Set(float64(count))
}

// UpdateArtifactsLive sets the number of artifacts currently stored.
func UpdateArtifactsLive(count int) {
	globalManager.artifactsLive.Set(float64(count))
}

// RecordArtifactExpired increments the expired artifacts counter.
func RecordArtifactExpired() {
	globalManager.artifactsExpired.Inc()
}

// RecordFileServed increments the served files counter.
func RecordFileServed() {
	globalManager.filesServed.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// UpdateSocketClients sets the number of connected websocket clients.
func UpdateSocketClients(count int) {
	globalManager.socketClients.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
