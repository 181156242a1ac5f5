package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conclave/pkg/config"
)

// AdmissionMetrics tracks admission gate outcomes.
//
// Metrics:
//   - conclave_admission_rejections_total{code}
//   - conclave_inflight_requests
//   - conclave_usage_record_failures_total
type AdmissionMetrics struct {
	rejections    *prometheus.CounterVec
	inFlight      prometheus.Gauge
	usageFailures prometheus.Counter
}

// NewAdmissionMetrics creates and registers admission metrics.
func NewAdmissionMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *AdmissionMetrics {
	am := &AdmissionMetrics{
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "admission_rejections_total",
				Help:      "Requests rejected before reaching the provider, by error code",
			},
			[]string{"code"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "inflight_requests",
				Help:      "Requests currently holding a concurrency slot",
			},
		),
		usageFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "usage_record_failures_total",
				Help:      "Usage events that could not be persisted",
			},
		),
	}

	registry.MustRegister(am.rejections, am.inFlight, am.usageFailures)
	return am
}
