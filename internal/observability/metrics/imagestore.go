package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ImageStoreMetrics contains the image cache metrics.
type ImageStoreMetrics struct {
	MemoryBytes   prometheus.Gauge
	MemoryEntries prometheus.Gauge
	Hits          *prometheus.CounterVec
	Misses        prometheus.Counter
	WriteErrors   prometheus.Counter
}

// NewImageStoreMetrics creates and registers the image cache metrics.
func NewImageStoreMetrics(registry prometheus.Registerer) (*ImageStoreMetrics, error) {
	m := &ImageStoreMetrics{
		MemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinalbum_imagestore_memory_bytes",
			Help: "Bytes held by the in-memory image tier.",
		}),
		MemoryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinalbum_imagestore_memory_entries",
			Help: "Images held by the in-memory image tier.",
		}),
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinalbum_imagestore_hits_total",
			Help: "Image cache hits by tier (memory, disk).",
		}, []string{"tier"}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinalbum_imagestore_misses_total",
			Help: "Image cache misses in both tiers.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinalbum_imagestore_disk_write_errors_total",
			Help: "Failed writes or deletes on the durable image tier.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register image store metrics: %w", err)
	}
	return m, nil
}

func (m *ImageStoreMetrics) IncHit(tier string) {
	if m == nil {
		return
	}
	m.Hits.WithLabelValues(tier).Inc()
}

func (m *ImageStoreMetrics) IncMiss() {
	if m == nil {
		return
	}
	m.Misses.Inc()
}

func (m *ImageStoreMetrics) IncWriteError() {
	if m == nil {
		return
	}
	m.WriteErrors.Inc()
}

// SetMemoryUsage updates the memory tier gauges.
func (m *ImageStoreMetrics) SetMemoryUsage(bytes int64, entries int64) {
	if m == nil {
		return
	}
	m.MemoryBytes.Set(float64(bytes))
	m.MemoryEntries.Set(float64(entries))
}

// Describe implements the prometheus.Collector interface.
func (m *ImageStoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.MemoryBytes.Desc()
	ch <- m.MemoryEntries.Desc()
	m.Hits.Describe(ch)
	ch <- m.Misses.Desc()
	ch <- m.WriteErrors.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ImageStoreMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.MemoryBytes
	ch <- m.MemoryEntries
	m.Hits.Collect(ch)
	ch <- m.Misses
	ch <- m.WriteErrors
}
