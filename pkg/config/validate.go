package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// maxFallbackCandidates mirrors the resolver's hard cap.
const maxFallbackCandidates = 8

// minJWTSecretLength is the shortest accepted HS256 secret.
const minJWTSecretLength = 16

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string `json:"field"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrInvalid matches every ValidationError with errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Unwrap lets errors.Is(err, ErrInvalid) match.
func (e ValidationError) Unwrap() error {
	return ErrInvalid
}

// Validate checks the whole configuration and returns a ValidationError
// holding every problem found, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateAdmission(&cfg.Admission)...)
	errs = append(errs, validateFallback(&cfg.Fallback)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateUsage(&cfg.Usage)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(s *ServerConfig) []FieldError {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(s.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("must be host:port, got %q", s.ListenAddress),
		})
	}
	errs = append(errs, positiveDuration("server.read_timeout", s.ReadTimeout)...)
	errs = append(errs, positiveDuration("server.write_timeout", s.WriteTimeout)...)
	errs = append(errs, positiveDuration("server.shutdown_timeout", s.ShutdownTimeout)...)
	if s.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must be positive"})
	}

	return errs
}

func validateUpstream(u *UpstreamConfig) []FieldError {
	var errs []FieldError

	parsed, err := url.Parse(u.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, FieldError{
			Field:   "upstream.base_url",
			Message: fmt.Sprintf("must be an absolute URL, got %q", u.BaseURL),
		})
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, FieldError{
			Field:   "upstream.base_url",
			Message: fmt.Sprintf("scheme must be http or https, got %q", parsed.Scheme),
		})
	}
	errs = append(errs, positiveDuration("upstream.timeout", u.Timeout)...)
	errs = append(errs, positiveDuration("upstream.stream_timeout", u.StreamTimeout)...)
	if u.CallTimeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.call_timeout", Message: "must not be negative"})
	} else if u.CallTimeout > 0 && u.CallTimeout < u.Timeout {
		errs = append(errs, FieldError{Field: "upstream.call_timeout", Message: "must be at least upstream.timeout"})
	}
	if u.MaxRetries > 10 {
		errs = append(errs, FieldError{Field: "upstream.max_retries", Message: "must be at most 10"})
	}
	if u.InitialBackoff > u.MaxBackoff {
		errs = append(errs, FieldError{
			Field:   "upstream.initial_backoff",
			Message: "must not exceed upstream.max_backoff",
		})
	}

	return errs
}

func validateAdmission(a *AdmissionConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, positiveDuration("admission.rate_limits.user_window", a.RateLimits.UserWindow)...)
	errs = append(errs, positiveDuration("admission.rate_limits.ip_window", a.RateLimits.IPWindow)...)
	errs = append(errs, positiveDuration("admission.idempotency.ttl", a.Idempotency.TTL)...)
	errs = append(errs, positiveDuration("admission.concurrency.slot_ttl", a.Concurrency.SlotTTL)...)
	errs = append(errs, positiveDuration("admission.circuit.cooldown", a.Circuit.Cooldown)...)

	if a.Concurrency.MaxPerUser < 1 {
		errs = append(errs, FieldError{Field: "admission.concurrency.max_per_user", Message: "must be at least 1"})
	}
	if a.Burst.Enabled {
		if a.Burst.RatePerSecond <= 0 {
			errs = append(errs, FieldError{Field: "admission.burst.rate_per_second", Message: "must be positive"})
		}
		if a.Burst.Burst < 1 {
			errs = append(errs, FieldError{Field: "admission.burst.burst", Message: "must be at least 1"})
		}
	}

	return errs
}

func validateFallback(f *FallbackConfig) []FieldError {
	var errs []FieldError

	if f.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "fallback.max_attempts", Message: "must be at least 1"})
	}
	if f.MaxCandidates < 1 || f.MaxCandidates > maxFallbackCandidates {
		errs = append(errs, FieldError{
			Field:   "fallback.max_candidates",
			Message: fmt.Sprintf("must be between 1 and %d", maxFallbackCandidates),
		})
	}
	for family, models := range f.Families {
		for i, m := range models {
			if strings.TrimSpace(m) == "" {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("fallback.families.%s[%d]", family, i),
					Message: "model id cannot be empty",
				})
			}
		}
	}
	for i, m := range f.Ladder {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("fallback.ladder[%d]", i),
				Message: "model id cannot be empty",
			})
		}
	}

	return errs
}

func validateStore(s *StoreConfig) []FieldError {
	var errs []FieldError

	switch s.Backend {
	case "memory":
		if s.Memory.MaxEntries < 1 {
			errs = append(errs, FieldError{Field: "store.memory.max_entries", Message: "must be at least 1"})
		}
	case "sqlite":
		if s.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "store.sqlite.path", Message: "is required"})
		}
	case "redis":
		if _, _, err := net.SplitHostPort(s.Redis.Addr); err != nil {
			errs = append(errs, FieldError{
				Field:   "store.redis.addr",
				Message: fmt.Sprintf("must be host:port, got %q", s.Redis.Addr),
			})
		}
		if s.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "store.redis.db", Message: "cannot be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("must be memory, sqlite or redis, got %q", s.Backend),
		})
	}

	return errs
}

func validateUsage(u *UsageConfig) []FieldError {
	var errs []FieldError

	switch u.Backend {
	case "memory":
	case "sqlite":
		if u.SQLitePath == "" {
			errs = append(errs, FieldError{Field: "usage.sqlite_path", Message: "is required"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "usage.backend",
			Message: fmt.Sprintf("must be memory or sqlite, got %q", u.Backend),
		})
	}
	if u.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "usage.retention_days", Message: "cannot be negative"})
	}
	if u.MaxRecords < 0 {
		errs = append(errs, FieldError{Field: "usage.max_records", Message: "cannot be negative"})
	}
	if u.PruneSchedule != "" {
		if _, err := cron.ParseStandard(u.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "usage.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}

func validateAuth(a *AuthConfig) []FieldError {
	var errs []FieldError

	if a.JWT.Secret == "" && len(a.APIKeys) == 0 {
		errs = append(errs, FieldError{
			Field:   "auth",
			Message: "configure auth.jwt.secret or at least one auth.api_keys entry",
		})
	}
	if a.JWT.Secret != "" && len(a.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, FieldError{
			Field:   "auth.jwt.secret",
			Message: fmt.Sprintf("must be at least %d characters", minJWTSecretLength),
		})
	}

	seen := make(map[string]bool)
	for i, k := range a.APIKeys {
		field := fmt.Sprintf("auth.api_keys[%d]", i)
		if k.Key == "" {
			errs = append(errs, FieldError{Field: field + ".key", Message: "is required"})
		} else if seen[k.Key] {
			errs = append(errs, FieldError{Field: field + ".key", Message: "duplicate key"})
		}
		seen[k.Key] = true
		if k.UserID == "" {
			errs = append(errs, FieldError{Field: field + ".user_id", Message: "is required"})
		}
	}

	return errs
}

func validateTelemetry(t *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(t.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("must be debug, info, warn or error, got %q", t.Logging.Level),
		})
	}
	switch strings.ToLower(t.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("must be json or text, got %q", t.Logging.Format),
		})
	}
	for i, p := range t.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "is required",
			})
		}
	}

	if t.Metrics.Enabled && !strings.HasPrefix(t.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	if t.Tracing.Enabled {
		switch t.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("must be always, never or ratio, got %q", t.Tracing.Sampler),
			})
		}
		if t.Tracing.SampleRatio < 0 || t.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
		}
		if t.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "is required when tracing is enabled"})
		}
	}

	return errs
}

func positiveDuration(field string, d time.Duration) []FieldError {
	if d <= 0 {
		return []FieldError{{Field: field, Message: "must be positive"}}
	}
	return nil
}
