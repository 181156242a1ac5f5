package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conclave/pkg/config"
)

// RequestMetrics tracks HTTP requests by endpoint.
//
// Metrics:
//   - conclave_requests_total{endpoint,status}
//   - conclave_request_duration_seconds{endpoint}
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRequestMetrics creates and registers request metrics.
func NewRequestMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"endpoint"},
		),
	}

	registry.MustRegister(rm.requestsTotal, rm.requestDuration)
	return rm
}

// Record observes one finished request.
func (rm *RequestMetrics) Record(endpoint string, status int, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	rm.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
