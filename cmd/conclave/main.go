// Conclave is the admission and delivery gateway for LLM generations.
//
// It authenticates callers, applies rate limits, duplicate suppression and
// per-user concurrency slots, then calls an OpenAI-compatible provider with
// the caller's own key, falling back across models when one is unavailable.
//
// Usage:
//
//	# Start the server
//	conclave run --config /etc/conclave/config.yaml
//
//	# Check a configuration file
//	conclave validate --config config.yaml
//
//	# Apply usage retention now
//	conclave usage prune --older-than 720h
//
//	# Show version information
//	conclave version
package main

func main() {
	Execute()
}
