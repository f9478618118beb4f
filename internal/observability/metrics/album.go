package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AlbumMetrics covers batch fetch coordination and per-photo downloads.
type AlbumMetrics struct {
	Batches          *prometheus.CounterVec
	ActiveBatches    prometheus.Gauge
	BatchDuration    prometheus.Histogram
	Downloads        *prometheus.CounterVec
	DownloadDuration prometheus.Histogram
	DownloadBytes    prometheus.Histogram
	StaleCompletions prometheus.Counter
}

// NewAlbumMetrics creates and registers the album metrics.
func NewAlbumMetrics(registry prometheus.Registerer) (*AlbumMetrics, error) {
	m := &AlbumMetrics{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinalbum_batches_total",
			Help: "Finished batches by outcome (settled, no_results, failed, cancelled).",
		}, []string{"outcome"}),
		ActiveBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinalbum_batches_active",
			Help: "Batches currently searching or downloading.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pinalbum_batch_duration_seconds",
			Help:    "Time from batch start to settle or failure.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinalbum_downloads_total",
			Help: "Photo downloads by outcome (ok, transient, permanent).",
		}, []string{"outcome"}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pinalbum_download_duration_seconds",
			Help:    "Duration of photo downloads in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		DownloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pinalbum_download_bytes",
			Help:    "Size of downloaded photos in bytes.",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 12),
		}),
		StaleCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinalbum_stale_completions_total",
			Help: "Download completions discarded because their batch was superseded.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register album metrics: %w", err)
	}
	return m, nil
}

func (m *AlbumMetrics) BatchStarted() {
	if m == nil {
		return
	}
	m.ActiveBatches.Inc()
}

// BatchFinished records the terminal outcome of a batch.
func (m *AlbumMetrics) BatchFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveBatches.Dec()
	m.Batches.WithLabelValues(outcome).Inc()
	m.BatchDuration.Observe(d.Seconds())
}

// ObserveDownload records one photo download; size is ignored unless outcome is "ok".
func (m *AlbumMetrics) ObserveDownload(outcome string, d time.Duration, size int) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(outcome).Inc()
	m.DownloadDuration.Observe(d.Seconds())
	if outcome == "ok" {
		m.DownloadBytes.Observe(float64(size))
	}
}

func (m *AlbumMetrics) IncStaleCompletion() {
	if m == nil {
		return
	}
	m.StaleCompletions.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *AlbumMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Batches.Describe(ch)
	ch <- m.ActiveBatches.Desc()
	ch <- m.BatchDuration.Desc()
	m.Downloads.Describe(ch)
	ch <- m.DownloadDuration.Desc()
	ch <- m.DownloadBytes.Desc()
	ch <- m.StaleCompletions.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *AlbumMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Batches.Collect(ch)
	ch <- m.ActiveBatches
	ch <- m.BatchDuration
	m.Downloads.Collect(ch)
	ch <- m.DownloadDuration
	ch <- m.DownloadBytes
	ch <- m.StaleCompletions
}
