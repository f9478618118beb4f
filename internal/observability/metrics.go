// Package observability owns the Prometheus registry and the /metrics handler.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/pinalbum/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Search     *metrics.SearchMetrics
	ImageStore *metrics.ImageStoreMetrics
	Album      *metrics.AlbumMetrics
	MQTT       *metrics.MQTTMetrics
	HTTP       *metrics.HTTPMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors plus
// every component collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	search, err := metrics.NewSearchMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create search metrics: %w", err)
	}
	imageStore, err := metrics.NewImageStoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create image store metrics: %w", err)
	}
	album, err := metrics.NewAlbumMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create album metrics: %w", err)
	}
	mqtt, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}
	httpClient, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Search:     search,
		ImageStore: imageStore,
		Album:      album,
		MQTT:       mqtt,
		HTTP:       httpClient,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
