package routing

import "strings"

// MaxCandidates caps the length of a candidate list.
const MaxCandidates = 8

// Config holds the fallback tables.
type Config struct {
	// FamilyFallbacks maps a model family (the id prefix before "/") to the
	// models tried after the requested one.
	FamilyFallbacks map[string][]string

	// GlobalLadder is tried after the family fallbacks.
	GlobalLadder []string

	// MaxCandidates overrides the list cap when positive and smaller than
	// the package cap.
	MaxCandidates int
}

// DefaultConfig returns the built-in fallback tables.
func DefaultConfig() Config {
	return Config{
		FamilyFallbacks: map[string][]string{
			"openai":     {"openai/gpt-4o-mini", "openai/gpt-4o"},
			"anthropic":  {"anthropic/claude-3.5-haiku", "anthropic/claude-3.5-sonnet"},
			"google":     {"google/gemini-2.0-flash-001"},
			"meta-llama": {"meta-llama/llama-3.3-70b-instruct"},
		},
		GlobalLadder: []string{
			"openai/gpt-4o-mini",
			"anthropic/claude-3.5-haiku",
			"google/gemini-2.0-flash-001",
			"meta-llama/llama-3.3-70b-instruct",
		},
		MaxCandidates: MaxCandidates,
	}
}

// Resolver builds candidate lists.
type Resolver struct {
	cfg Config
}

// NewResolver creates a resolver for cfg.
func NewResolver(cfg Config) *Resolver {
	if cfg.MaxCandidates <= 0 || cfg.MaxCandidates > MaxCandidates {
		cfg.MaxCandidates = MaxCandidates
	}
	return &Resolver{cfg: cfg}
}

// Family returns the provider family of a model id: the part before the
// first "/", or "" when there is none.
func Family(model string) string {
	family, _, found := strings.Cut(model, "/")
	if !found {
		return ""
	}
	return family
}

// Resolve returns the ordered candidate list for requested. A nil allowlist
// means no filtering.
func (r *Resolver) Resolve(requested string, allowlist []string) []string {
	requested = strings.TrimSpace(requested)

	seen := make(map[string]bool)
	candidates := make([]string, 0, r.cfg.MaxCandidates)
	add := func(models ...string) {
		for _, m := range models {
			m = strings.TrimSpace(m)
			if m == "" || seen[m] || len(candidates) == r.cfg.MaxCandidates {
				continue
			}
			seen[m] = true
			candidates = append(candidates, m)
		}
	}

	add(requested)
	if family := Family(requested); family != "" {
		add(r.cfg.FamilyFallbacks[family]...)
	}
	add(r.cfg.GlobalLadder...)

	if len(allowlist) == 0 {
		return candidates
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, m := range allowlist {
		allowed[strings.TrimSpace(m)] = true
	}

	filtered := make([]string, 0, len(candidates))
	for _, m := range candidates {
		if allowed[m] {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) == 0 {
		return candidates
	}
	return filtered
}
