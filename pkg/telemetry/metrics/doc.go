// Package metrics exposes gateway Prometheus metrics on a private registry.
//
// Series:
//
//	conclave_requests_total{endpoint,status}
//	conclave_request_duration_seconds{endpoint}
//	conclave_admission_rejections_total{code}
//	conclave_inflight_requests
//	conclave_upstream_attempts_total{model,outcome}
//	conclave_upstream_latency_seconds{model}
//	conclave_fallbacks_total
//	conclave_circuit_opens_total{provider}
//	conclave_stream_outcomes_total{outcome}
//	conclave_usage_record_failures_total
//
// Model labels are capped; values past the cap are reported as "other".
package metrics
