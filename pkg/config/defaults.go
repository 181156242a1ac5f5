package config

import "time"

// Default values for configuration fields.
const (
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576
	DefaultMaxBodyBytes    = int64(1048576)

	DefaultUpstreamName          = "openrouter"
	DefaultUpstreamBaseURL       = "https://openrouter.ai/api/v1"
	DefaultUpstreamTimeout       = 30 * time.Second
	DefaultUpstreamStreamTimeout = 120 * time.Second
	DefaultUpstreamMaxRetries    = 2
	DefaultUpstreamInitialBackof = 250 * time.Millisecond
	DefaultUpstreamMaxBackoff    = 4 * time.Second
	DefaultUpstreamIdleConns     = 32

	DefaultUserRequests    = 10
	DefaultUserWindow      = time.Minute
	DefaultIPRequests      = 30
	DefaultIPWindow        = time.Minute
	DefaultIdempotencyTTL  = 120 * time.Second
	DefaultMaxPerUser      = 2
	DefaultSlotTTL         = 180 * time.Second
	DefaultCircuitCooldown = 20 * time.Second
	DefaultBurstRate       = 5.0
	DefaultBurstSize       = 20
	DefaultBurstIdleTTL    = 10 * time.Minute

	DefaultFallbackMaxAttempts   = 3
	DefaultFallbackMaxCandidates = 8

	DefaultStoreBackend         = "memory"
	DefaultMemoryMaxEntries     = 1000000
	DefaultStoreCleanupInterval = time.Minute
	DefaultStoreSQLitePath      = "data/admission.db"
	DefaultStoreBusyTimeout     = 5 * time.Second
	DefaultRedisAddr            = "localhost:6379"
	DefaultRedisKeyPrefix       = "conclave:"
	DefaultRedisDialTimeout     = 5 * time.Second

	DefaultUsageBackend       = "sqlite"
	DefaultUsageSQLitePath    = "data/usage.db"
	DefaultUsageRetentionDays = 90
	DefaultUsagePruneSchedule = "0 3 * * *"

	DefaultEntitlementTier  = "free"
	DefaultCredentialsTTL   = time.Minute
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "conclave"
	DefaultTracingSampler   = "ratio"
	DefaultTracingRatio     = 0.1
	DefaultTracingEndpoint  = "localhost:4317"
	DefaultTracingService   = "conclave"
)

// NewDefault returns a configuration with every default applied. Boolean
// fields that default to true are set here, since ApplyDefaults cannot tell
// an explicit false from an unset field.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Admission.Burst.Enabled = true
	cfg.Credentials.Watch = true
	cfg.ModelPolicy.Watch = true
	cfg.Telemetry.Logging.Redact = true
	cfg.Telemetry.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	u := &cfg.Upstream
	if u.Name == "" {
		u.Name = DefaultUpstreamName
	}
	if u.BaseURL == "" {
		u.BaseURL = DefaultUpstreamBaseURL
	}
	if u.Timeout == 0 {
		u.Timeout = DefaultUpstreamTimeout
	}
	if u.StreamTimeout == 0 {
		u.StreamTimeout = DefaultUpstreamStreamTimeout
	}
	if u.MaxRetries == 0 {
		u.MaxRetries = DefaultUpstreamMaxRetries
	}
	if u.InitialBackoff == 0 {
		u.InitialBackoff = DefaultUpstreamInitialBackof
	}
	if u.MaxBackoff == 0 {
		u.MaxBackoff = DefaultUpstreamMaxBackoff
	}
	if u.MaxIdleConnsPerHost == 0 {
		u.MaxIdleConnsPerHost = DefaultUpstreamIdleConns
	}

	applyAdmissionDefaults(&cfg.Admission)

	if cfg.Fallback.MaxAttempts == 0 {
		cfg.Fallback.MaxAttempts = DefaultFallbackMaxAttempts
	}
	if cfg.Fallback.MaxCandidates == 0 {
		cfg.Fallback.MaxCandidates = DefaultFallbackMaxCandidates
	}

	applyStoreDefaults(&cfg.Store)

	if cfg.Usage.Backend == "" {
		cfg.Usage.Backend = DefaultUsageBackend
	}
	if cfg.Usage.SQLitePath == "" {
		cfg.Usage.SQLitePath = DefaultUsageSQLitePath
	}
	if cfg.Usage.RetentionDays == 0 {
		cfg.Usage.RetentionDays = DefaultUsageRetentionDays
	}
	if cfg.Usage.PruneSchedule == "" {
		cfg.Usage.PruneSchedule = DefaultUsagePruneSchedule
	}

	if cfg.Entitlement.DefaultTier == "" {
		cfg.Entitlement.DefaultTier = DefaultEntitlementTier
	}
	if cfg.Credentials.CacheTTL == 0 {
		cfg.Credentials.CacheTTL = DefaultCredentialsTTL
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyAdmissionDefaults(a *AdmissionConfig) {
	if a.RateLimits.UserRequests == 0 {
		a.RateLimits.UserRequests = DefaultUserRequests
	}
	if a.RateLimits.UserWindow == 0 {
		a.RateLimits.UserWindow = DefaultUserWindow
	}
	if a.RateLimits.IPRequests == 0 {
		a.RateLimits.IPRequests = DefaultIPRequests
	}
	if a.RateLimits.IPWindow == 0 {
		a.RateLimits.IPWindow = DefaultIPWindow
	}
	if a.Idempotency.TTL == 0 {
		a.Idempotency.TTL = DefaultIdempotencyTTL
	}
	if a.Concurrency.MaxPerUser == 0 {
		a.Concurrency.MaxPerUser = DefaultMaxPerUser
	}
	if a.Concurrency.SlotTTL == 0 {
		a.Concurrency.SlotTTL = DefaultSlotTTL
	}
	if a.Circuit.Cooldown == 0 {
		a.Circuit.Cooldown = DefaultCircuitCooldown
	}
	if a.Burst.RatePerSecond == 0 {
		a.Burst.RatePerSecond = DefaultBurstRate
	}
	if a.Burst.Burst == 0 {
		a.Burst.Burst = DefaultBurstSize
	}
	if a.Burst.IdleTTL == 0 {
		a.Burst.IdleTTL = DefaultBurstIdleTTL
	}
}

func applyStoreDefaults(s *StoreConfig) {
	if s.Backend == "" {
		s.Backend = DefaultStoreBackend
	}
	if s.Memory.MaxEntries == 0 {
		s.Memory.MaxEntries = DefaultMemoryMaxEntries
	}
	if s.Memory.CleanupInterval == 0 {
		s.Memory.CleanupInterval = DefaultStoreCleanupInterval
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = DefaultStoreSQLitePath
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = DefaultStoreBusyTimeout
	}
	if s.SQLite.CleanupInterval == 0 {
		s.SQLite.CleanupInterval = DefaultStoreCleanupInterval
	}
	if s.Redis.Addr == "" {
		s.Redis.Addr = DefaultRedisAddr
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if s.Redis.DialTimeout == 0 {
		s.Redis.DialTimeout = DefaultRedisDialTimeout
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(t.Metrics.RequestDurationBuckets) == 0 {
		t.Metrics.RequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingRatio
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingService
	}
}
