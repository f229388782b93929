// Package metrics exposes previewd's Prometheus instrumentation: request
// counters and latencies, per-backend conversion timings and errors, and
// storage totals reported by the janitor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector previewd registers. A nil *Metrics (what
// main passes around when PVS_METRICS is off) makes every Observe/Track
// method a no-op, so call sites never need to branch on whether metrics are
// enabled.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal      *prometheus.CounterVec
	requestInProgress *prometheus.GaugeVec
	requestLatency    *prometheus.SummaryVec

	previews          *prometheus.SummaryVec
	conversions       *prometheus.SummaryVec
	conversionErrors  *prometheus.CounterVec
	storageOperations *prometheus.CounterVec
	storageBytes      prometheus.Gauge
	storageFiles      prometheus.Gauge
	transferLatency   *prometheus.SummaryVec
}

// New registers and returns a full set of collectors against a private
// registry, so multiple previewd instances in the same process (tests)
// never collide on the default global registry.
func New() *Metrics {
	return newWith(prometheus.NewRegistry())
}

func newWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aiohttp_request_total", Help: "Total requests",
		}, []string{"endpoint", "method", "status"}),
		requestInProgress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aiohttp_request_in_progress", Help: "Requests in progress",
		}, []string{"endpoint", "method"}),
		requestLatency: factory.NewSummaryVec(prometheus.SummaryOpts{
			Name: "aiohttp_request_latency_secs", Help: "Request latency",
		}, []string{"endpoint"}),
		previews: factory.NewSummaryVec(prometheus.SummaryOpts{
			Name: "pvs_preview_time_secs", Help: "Preview generation time",
		}, []string{"extension", "format"}),
		conversions: factory.NewSummaryVec(prometheus.SummaryOpts{
			Name: "pvs_conversion_time_secs", Help: "Backend conversion time",
		}, []string{"backend", "extension", "format"}),
		conversionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvs_conversion_errors_total", Help: "Total errors during format conversion",
		}, []string{"backend", "extension", "format"}),
		storageOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvs_storage_operations_total", Help: "Storage operations",
		}, []string{"operation"}),
		storageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pvs_storage_bytes_total", Help: "Total bytes in store",
		}),
		storageFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pvs_storage_files_total", Help: "Total files in store",
		}),
		transferLatency: factory.NewSummaryVec(prometheus.SummaryOpts{
			Name: "pvs_transfer_latency_secs", Help: "Uploads or downloads of files",
		}, []string{"operation"}),
	}
}

// Handler serves the Prometheus exposition format. Callers gate this behind
// PVS_METRICS: when metrics are disabled there is no *Metrics, Handler is
// not called, and the HTTP layer answers /metrics/ with 404.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(endpoint, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(endpoint, method, statusLabel(status)).Inc()
	m.requestLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// TrackInProgress increments the in-progress gauge and returns a function
// that decrements it.
func (m *Metrics) TrackInProgress(endpoint, method string) func() {
	if m == nil {
		return func() {}
	}
	g := m.requestInProgress.WithLabelValues(endpoint, method)
	g.Inc()
	return g.Dec
}

// ObservePreview records one preview generation's wall time.
func (m *Metrics) ObservePreview(extension, format string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.previews.WithLabelValues(extension, format).Observe(elapsed.Seconds())
}

// ObserveConversion records one backend conversion's wall time.
func (m *Metrics) ObserveConversion(backend, extension, format string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(backend, extension, format).Observe(elapsed.Seconds())
}

// ObserveConversionError counts one backend conversion failure.
func (m *Metrics) ObserveConversionError(backend, extension, format string) {
	if m == nil {
		return
	}
	m.conversionErrors.WithLabelValues(backend, extension, format).Inc()
}

// ObserveStorageOperation counts one store get/put/evict.
func (m *Metrics) ObserveStorageOperation(operation string) {
	if m == nil {
		return
	}
	m.storageOperations.WithLabelValues(operation).Inc()
}

// ObserveStorageTotals implements janitor.Observer.
func (m *Metrics) ObserveStorageTotals(files int, bytes int64) {
	if m == nil {
		return
	}
	m.storageFiles.Set(float64(files))
	m.storageBytes.Set(float64(bytes))
}

// ObserveTransfer records one upload/download's wall time.
func (m *Metrics) ObserveTransfer(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transferLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
