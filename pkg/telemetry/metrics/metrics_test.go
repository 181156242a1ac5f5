package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/conclave/pkg/config"
)

func testConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Enabled:                true,
		Namespace:              "conclave",
		RequestDurationBuckets: []float64{0.1, 0.5, 1.0, 5.0},
	}
}

func TestNewCollector_Disabled(t *testing.T) {
	c := NewCollector(config.MetricsConfig{}, nil)
	if c != nil {
		t.Fatal("Expected nil collector when disabled")
	}

	// Every method must tolerate a nil collector.
	c.RecordRequest("/generate", 200, time.Second)
	c.RecordRejection("RATE_LIMITED")
	c.InFlightInc()
	c.InFlightDec()
	c.RecordUpstreamAttempt("m", "success", time.Second)
	c.RecordFallback()
	c.RecordCircuitOpen("openrouter")
	c.RecordStreamOutcome("done")
	c.RecordUsageFailure()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 from nil collector, got %d", rec.Code)
	}
}

func TestCollector_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector(testConfig(), registry)

	c.RecordRequest("/generate", 200, 300*time.Millisecond)
	c.RecordRequest("/generate", 200, 300*time.Millisecond)
	c.RecordRejection("DUPLICATE_REQUEST")
	c.RecordUpstreamAttempt("openai/gpt-4o", "TIMEOUT", 2*time.Second)
	c.RecordFallback()
	c.RecordCircuitOpen("openrouter")
	c.RecordStreamOutcome("canceled")
	c.RecordUsageFailure()

	if got := testutil.ToFloat64(c.requests.requestsTotal.WithLabelValues("/generate", "200")); got != 2 {
		t.Errorf("Expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.admission.rejections.WithLabelValues("DUPLICATE_REQUEST")); got != 1 {
		t.Errorf("Expected 1 rejection, got %v", got)
	}
	if got := testutil.ToFloat64(c.upstream.attempts.WithLabelValues("openai/gpt-4o", "TIMEOUT")); got != 1 {
		t.Errorf("Expected 1 attempt, got %v", got)
	}
	if got := testutil.ToFloat64(c.upstream.fallbacks); got != 1 {
		t.Errorf("Expected 1 fallback, got %v", got)
	}
	if got := testutil.ToFloat64(c.upstream.circuitOpens.WithLabelValues("openrouter")); got != 1 {
		t.Errorf("Expected 1 circuit open, got %v", got)
	}
	if got := testutil.ToFloat64(c.upstream.streamOutcomes.WithLabelValues("canceled")); got != 1 {
		t.Errorf("Expected 1 canceled stream, got %v", got)
	}
	if got := testutil.ToFloat64(c.admission.usageFailures); got != 1 {
		t.Errorf("Expected 1 usage failure, got %v", got)
	}
}

func TestCollector_InFlight(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	c.InFlightInc()
	c.InFlightInc()
	c.InFlightDec()

	if got := testutil.ToFloat64(c.admission.inFlight); got != 1 {
		t.Errorf("Expected 1 in flight, got %v", got)
	}
}

func TestCollector_ModelCardinality(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	c.models = NewCardinalityLimiter(2)

	c.RecordUpstreamAttempt("a", "success", time.Millisecond)
	c.RecordUpstreamAttempt("b", "success", time.Millisecond)
	c.RecordUpstreamAttempt("c", "success", time.Millisecond)
	c.RecordUpstreamAttempt("d", "success", time.Millisecond)

	if got := testutil.ToFloat64(c.upstream.attempts.WithLabelValues(otherModel, "success")); got != 2 {
		t.Errorf("Expected 2 attempts folded into other, got %v", got)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)
	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("Expected first two values to be allowed")
	}
	if cl.Allow("c") {
		t.Error("Expected third value to be rejected")
	}
	if !cl.Allow("a") {
		t.Error("Expected known value to stay allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("Expected count 2, got %d", cl.Count())
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	c.RecordRejection("RATE_LIMITED")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `conclave_admission_rejections_total{code="RATE_LIMITED"} 1`) {
		t.Errorf("Expected rejection series in output, got:\n%s", rec.Body.String())
	}
}
