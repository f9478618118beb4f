// Package metrics provides the Prometheus collectors for pinalbum components.
// Every Record/Observe method is safe to call on a nil receiver, so
// components can run without metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SearchMetrics covers the remote photo search client.
type SearchMetrics struct {
	Requests      *prometheus.CounterVec
	Duration      prometheus.Histogram
	ResultPhotos  prometheus.Histogram
	CacheHits     prometheus.Counter
	RateLimitWait prometheus.Histogram
}

// NewSearchMetrics creates and registers the search metrics.
func NewSearchMetrics(registry prometheus.Registerer) (*SearchMetrics, error) {
	m := &SearchMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinalbum_search_requests_total",
			Help: "Photo search requests by outcome (ok, network, api_status, malformed_response).",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pinalbum_search_duration_seconds",
			Help:    "Duration of photo search requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ResultPhotos: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pinalbum_search_result_photos",
			Help:    "Number of photo descriptors returned per successful search.",
			Buckets: []float64{0, 1, 5, 10, 21, 50, 100, 250, 500},
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinalbum_search_cache_hits_total",
			Help: "Searches answered from the result cache.",
		}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pinalbum_search_ratelimit_wait_seconds",
			Help:    "Time spent waiting for the search rate limiter.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register search metrics: %w", err)
	}
	return m, nil
}

// ObserveRequest records one search request outcome and its duration.
func (m *SearchMetrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.Duration.Observe(d.Seconds())
}

// ObserveResults records the number of descriptors in a successful search.
func (m *SearchMetrics) ObserveResults(n int) {
	if m == nil {
		return
	}
	m.ResultPhotos.Observe(float64(n))
}

func (m *SearchMetrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *SearchMetrics) ObserveRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.Observe(d.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *SearchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Requests.Describe(ch)
	ch <- m.Duration.Desc()
	ch <- m.ResultPhotos.Desc()
	ch <- m.CacheHits.Desc()
	ch <- m.RateLimitWait.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *SearchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Requests.Collect(ch)
	ch <- m.Duration
	ch <- m.ResultPhotos
	ch <- m.CacheHits
	ch <- m.RateLimitWait
}
