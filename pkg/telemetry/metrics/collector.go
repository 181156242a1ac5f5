package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conclave/pkg/config"
)

// maxModelLabels bounds distinct model label values. Model IDs come from
// callers, so unbounded labels would let clients grow the series set.
const maxModelLabels = 500

// otherModel replaces model labels past the cardinality limit.
const otherModel = "other"

// Collector owns every gateway metric on a private registry. All methods
// are safe on a nil receiver so components can run without metrics.
type Collector struct {
	registry *prometheus.Registry

	requests  *RequestMetrics
	admission *AdmissionMetrics
	upstream  *UpstreamMetrics

	models *CardinalityLimiter
}

// NewCollector registers the gateway metrics on registry, or on a new
// registry when nil. It returns nil when metrics are disabled.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if !cfg.Enabled {
		return nil
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = prometheus.DefBuckets
	}

	return &Collector{
		registry:  registry,
		requests:  NewRequestMetrics(cfg, registry),
		admission: NewAdmissionMetrics(cfg, registry),
		upstream:  NewUpstreamMetrics(cfg, registry),
		models:    NewCardinalityLimiter(maxModelLabels),
	}
}

// RecordRequest records a finished HTTP request.
func (c *Collector) RecordRequest(endpoint string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requests.Record(endpoint, status, duration)
}

// RecordRejection counts a request refused before reaching the provider.
func (c *Collector) RecordRejection(code string) {
	if c == nil {
		return
	}
	c.admission.rejections.WithLabelValues(code).Inc()
}

// InFlightInc and InFlightDec track requests holding a concurrency slot.
func (c *Collector) InFlightInc() {
	if c == nil {
		return
	}
	c.admission.inFlight.Inc()
}

func (c *Collector) InFlightDec() {
	if c == nil {
		return
	}
	c.admission.inFlight.Dec()
}

// RecordUpstreamAttempt counts one provider attempt for model. outcome is
// "success" or an error code.
func (c *Collector) RecordUpstreamAttempt(model, outcome string, latency time.Duration) {
	if c == nil {
		return
	}
	if !c.models.Allow(model) {
		model = otherModel
	}
	c.upstream.attempts.WithLabelValues(model, outcome).Inc()
	c.upstream.latency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordFallback counts a request served by a substitute model.
func (c *Collector) RecordFallback() {
	if c == nil {
		return
	}
	c.upstream.fallbacks.Inc()
}

// RecordCircuitOpen counts a provider cooldown being started.
func (c *Collector) RecordCircuitOpen(provider string) {
	if c == nil {
		return
	}
	c.upstream.circuitOpens.WithLabelValues(provider).Inc()
}

// RecordStreamOutcome counts how a stream ended: "done", "error" or
// "canceled".
func (c *Collector) RecordStreamOutcome(outcome string) {
	if c == nil {
		return
	}
	c.upstream.streamOutcomes.WithLabelValues(outcome).Inc()
}

// RecordUsageFailure counts a usage event that could not be stored.
func (c *Collector) RecordUsageFailure() {
	if c == nil {
		return
	}
	c.admission.usageFailures.Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CardinalityLimiter caps the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or still fits.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
