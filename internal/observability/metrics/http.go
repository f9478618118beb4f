package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics tracks outbound requests made through the shared HTTP client.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics creates and registers the outbound HTTP metrics.
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinalbum_http_client_requests_total",
				Help: "Outbound HTTP requests by host and status class.",
			},
			[]string{"host", "status"},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinalbum_http_client_requests_in_flight",
			Help: "Outbound HTTP requests waiting for a response.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP client metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) RequestStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// RequestFinished records one response; status 0 with a non-nil err is a
// transport failure.
func (m *HTTPMetrics) RequestFinished(host string, status int, err error) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Requests.WithLabelValues(host, StatusClass(status, err)).Inc()
}

// StatusClass maps a response to "2xx".."5xx", or "error" for transport failures.
func StatusClass(status int, err error) string {
	if err != nil || status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Requests.Describe(ch)
	ch <- m.InFlight.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Requests.Collect(ch)
	ch <- m.InFlight
}
