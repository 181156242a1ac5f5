package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conclave/pkg/config"
)

// UpstreamMetrics tracks provider calls.
//
// Metrics:
//   - conclave_upstream_attempts_total{model,outcome}
//   - conclave_upstream_latency_seconds{model}
//   - conclave_fallbacks_total
//   - conclave_circuit_opens_total{provider}
//   - conclave_stream_outcomes_total{outcome}
type UpstreamMetrics struct {
	attempts       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	fallbacks      prometheus.Counter
	circuitOpens   *prometheus.CounterVec
	streamOutcomes *prometheus.CounterVec
}

// NewUpstreamMetrics creates and registers provider metrics.
func NewUpstreamMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *UpstreamMetrics {
	um := &UpstreamMetrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_attempts_total",
				Help:      "Provider attempts by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Provider attempt latency in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"model"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "fallbacks_total",
				Help:      "Requests served by a model other than the one requested",
			},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "circuit_opens_total",
				Help:      "Provider cooldowns started",
			},
			[]string{"provider"},
		),
		streamOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "stream_outcomes_total",
				Help:      "Streams by terminal outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(um.attempts, um.latency, um.fallbacks, um.circuitOpens, um.streamOutcomes)
	return um
}
