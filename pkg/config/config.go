package config

import "time"

// Config is the root configuration for the Conclave gateway.
type Config struct {
	// Server contains the HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Upstream configures the model provider client.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Admission contains rate limits, idempotency, concurrency, circuit
	// breaker and burst guard settings.
	Admission AdmissionConfig `yaml:"admission"`

	// Fallback configures the model fallback ladder.
	Fallback FallbackConfig `yaml:"fallback"`

	// Store selects the backend holding admission state.
	Store StoreConfig `yaml:"store"`

	// Usage configures usage event storage and retention.
	Usage UsageConfig `yaml:"usage"`

	// Auth configures caller authentication.
	Auth AuthConfig `yaml:"auth"`

	// Entitlement lists which tiers may generate.
	Entitlement EntitlementConfig `yaml:"entitlement"`

	// Credentials configures per-user provider keys.
	Credentials CredentialsConfig `yaml:"credentials"`

	// ModelPolicy points at the per-key model allowlist file.
	ModelPolicy ModelPolicyConfig `yaml:"model_policy"`

	// Telemetry contains logging, metrics and tracing settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the host:port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout bounds reading the request including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a blocking response. Streaming responses
	// clear the deadline per request.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is how long graceful shutdown waits for in-flight
	// requests, including open streams.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the generate request body.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TrustProxyHeaders makes the client IP come from X-Forwarded-For.
	// Only enable behind a proxy that sets the header.
	// Default: false
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// UpstreamConfig configures the OpenAI-compatible provider.
type UpstreamConfig struct {
	// Name identifies the provider in circuit keys, metrics and logs.
	// Default: "openrouter"
	Name string `yaml:"name"`

	// BaseURL is the API root; "/chat/completions" is appended.
	// Default: "https://openrouter.ai/api/v1"
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-attempt deadline for blocking calls.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// StreamTimeout is the deadline for a whole streamed response.
	// Default: 120s
	StreamTimeout time.Duration `yaml:"stream_timeout"`

	// CallTimeout bounds a whole blocking call, retries and backoff
	// included. Zero uses twice Timeout.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxRetries is the number of retries after the first attempt.
	// Negative disables retries.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// InitialBackoff and MaxBackoff bound the retry delay.
	// Default: 250ms and 4s
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// Referer and Title are sent as HTTP-Referer and X-Title.
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`

	// MaxIdleConnsPerHost sizes the keep-alive pool.
	// Default: 32
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`
}

// AdmissionConfig groups the admission gates.
type AdmissionConfig struct {
	RateLimits  RateLimitConfig   `yaml:"rate_limits"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Circuit     CircuitConfig     `yaml:"circuit"`
	Burst       BurstConfig       `yaml:"burst"`
}

// RateLimitConfig sets the fixed windows. A negative request count
// disables that scope.
type RateLimitConfig struct {
	// Default: 10 per 1m
	UserRequests int           `yaml:"user_requests"`
	UserWindow   time.Duration `yaml:"user_window"`

	// Default: 30 per 1m
	IPRequests int           `yaml:"ip_requests"`
	IPWindow   time.Duration `yaml:"ip_window"`
}

// IdempotencyConfig sets the duplicate suppression window.
type IdempotencyConfig struct {
	// Default: 120s
	TTL time.Duration `yaml:"ttl"`
}

// ConcurrencyConfig bounds in-flight requests per user.
type ConcurrencyConfig struct {
	// Default: 2
	MaxPerUser int `yaml:"max_per_user"`

	// SlotTTL reclaims leaked slots.
	// Default: 180s
	SlotTTL time.Duration `yaml:"slot_ttl"`
}

// CircuitConfig sets the provider cooldown.
type CircuitConfig struct {
	// Default: 20s
	Cooldown time.Duration `yaml:"cooldown"`
}

// BurstConfig is the per-IP token bucket in front of the handlers.
type BurstConfig struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// RatePerSecond is the refill rate.
	// Default: 5
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the bucket size.
	// Default: 20
	Burst int `yaml:"burst"`

	// IdleTTL drops buckets for IPs not seen recently.
	// Default: 10m
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// FallbackConfig configures candidate lists.
type FallbackConfig struct {
	// MaxAttempts caps how many candidates one request tries.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// MaxCandidates caps the list length (at most 8).
	// Default: 8
	MaxCandidates int `yaml:"max_candidates"`

	// Families maps a model family to its fallbacks. Empty uses the
	// built-in table.
	Families map[string][]string `yaml:"families"`

	// Ladder is the global fallback ladder. Empty uses the built-in one.
	Ladder []string `yaml:"ladder"`
}

// StoreConfig selects the admission state backend.
type StoreConfig struct {
	// Backend is "memory", "sqlite" or "redis".
	// Default: "memory"
	Backend string `yaml:"backend"`

	Memory MemoryStoreConfig `yaml:"memory"`
	SQLite SQLiteStoreConfig `yaml:"sqlite"`
	Redis  RedisStoreConfig  `yaml:"redis"`
}

// MemoryStoreConfig configures the in-process store.
type MemoryStoreConfig struct {
	// Default: 1000000
	MaxEntries int `yaml:"max_entries"`

	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// SQLiteStoreConfig configures the single-instance persistent store.
type SQLiteStoreConfig struct {
	// Default: "data/admission.db"
	Path string `yaml:"path"`

	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RedisStoreConfig configures the shared store.
type RedisStoreConfig struct {
	// Default: "localhost:6379"
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Default: "conclave:"
	KeyPrefix string `yaml:"key_prefix"`

	// Default: 0 (go-redis default)
	PoolSize int `yaml:"pool_size"`

	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// UsageConfig configures usage event storage.
type UsageConfig struct {
	// Backend is "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLitePath is the usage database file.
	// Default: "data/usage.db"
	SQLitePath string `yaml:"sqlite_path"`

	// RetentionDays deletes older events. 0 keeps everything.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression; empty disables scheduling.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// MaxRecords caps the table. 0 is unlimited.
	MaxRecords int64 `yaml:"max_records"`
}

// AuthConfig configures identity resolution. At least one method must be
// configured.
type AuthConfig struct {
	JWT     JWTConfig      `yaml:"jwt"`
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// JWTConfig configures HS256 bearer tokens.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// APIKeyConfig is one static caller key.
type APIKeyConfig struct {
	Key      string `yaml:"key"`
	UserID   string `yaml:"user_id"`
	Tier     string `yaml:"tier"`
	Disabled bool   `yaml:"disabled"`
}

// EntitlementConfig lists which tiers may generate.
type EntitlementConfig struct {
	// AllowedTiers may generate; empty allows all.
	AllowedTiers []string `yaml:"allowed_tiers"`

	// DefaultTier applies to identities without a tier.
	// Default: "free"
	DefaultTier string `yaml:"default_tier"`

	// BlockedUsers are always denied.
	BlockedUsers []string `yaml:"blocked_users"`
}

// CredentialsConfig configures BYOK key lookup.
type CredentialsConfig struct {
	// Dir holds one key file per user. Empty disables file keys.
	Dir string `yaml:"dir"`

	// Watch reloads keys when files change.
	// Default: true
	Watch bool `yaml:"watch"`

	// SharedKeyEnv names an environment variable holding a service-wide
	// key used when a user has none. Empty requires BYOK.
	SharedKeyEnv string `yaml:"shared_key_env"`

	// CacheTTL caches resolved keys.
	// Default: 1m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ModelPolicyConfig points at the allowlist file.
type ModelPolicyConfig struct {
	// File is the YAML allowlist. Empty disables filtering.
	File string `yaml:"file"`

	// Watch reloads the file on change.
	// Default: true
	Watch bool `yaml:"watch"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in log entries.
	AddSource bool `yaml:"add_source"`

	// Redact masks keys, tokens and secrets in log attributes.
	// Default: true
	Redact bool `yaml:"redact"`

	// RedactPatterns adds custom redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern is a custom log redaction rule.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "conclave"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets are histogram buckets in seconds.
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler is "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is used by the ratio sampler.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// ServiceName is reported on every span.
	// Default: "conclave"
	ServiceName string `yaml:"service_name"`
}
