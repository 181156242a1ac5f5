package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONCLAVE_"

// LoadConfig reads a YAML file, fills defaults and validates the result.
// Environment variables are not consulted; see LoadConfigWithEnvOverrides.
func LoadConfig(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads the file, then applies CONCLAVE_*
// environment variables, then validates. An empty path loads defaults only.
//
// Variables follow CONCLAVE_SECTION_FIELD, for example
// CONCLAVE_SERVER_LISTEN_ADDRESS or CONCLAVE_STORE_REDIS_ADDR.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefault()
	} else {
		var err error
		if cfg, err = parseFile(path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	// Unmarshal over the defaults so booleans that default to true survive
	// a file that does not mention them.
	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// envOverrides binds variable names to setters. A malformed value is an
// error rather than being silently ignored.
type envOverrides struct {
	lookup lookupFunc
	errs   []FieldError
}

func (e *envOverrides) str(name string, dst *string) {
	if v, ok := e.lookup(EnvPrefix + name); ok && v != "" {
		*dst = v
	}
}

func (e *envOverrides) list(name string, dst *[]string) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envOverrides) integer(name string, dst *int) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, "must be an integer")
		return
	}
	*dst = n
}

func (e *envOverrides) int64(name string, dst *int64) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(name, "must be an integer")
		return
	}
	*dst = n
}

func (e *envOverrides) float(name string, dst *float64) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, "must be a number")
		return
	}
	*dst = f
}

func (e *envOverrides) boolean(name string, dst *bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, "must be a boolean")
		return
	}
	*dst = b
}

func (e *envOverrides) duration(name string, dst *time.Duration) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, "must be a duration such as 30s")
		return
	}
	*dst = d
}

func (e *envOverrides) fail(name, msg string) {
	e.errs = append(e.errs, FieldError{Field: EnvPrefix + name, Message: msg})
}

func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	e := &envOverrides{lookup: lookup}

	e.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	e.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.int64("SERVER_MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)
	e.boolean("SERVER_TRUST_PROXY_HEADERS", &cfg.Server.TrustProxyHeaders)

	e.str("UPSTREAM_NAME", &cfg.Upstream.Name)
	e.str("UPSTREAM_BASE_URL", &cfg.Upstream.BaseURL)
	e.duration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	e.duration("UPSTREAM_STREAM_TIMEOUT", &cfg.Upstream.StreamTimeout)
	e.duration("UPSTREAM_CALL_TIMEOUT", &cfg.Upstream.CallTimeout)
	e.integer("UPSTREAM_MAX_RETRIES", &cfg.Upstream.MaxRetries)
	e.str("UPSTREAM_REFERER", &cfg.Upstream.Referer)
	e.str("UPSTREAM_TITLE", &cfg.Upstream.Title)

	a := &cfg.Admission
	e.integer("ADMISSION_USER_REQUESTS", &a.RateLimits.UserRequests)
	e.duration("ADMISSION_USER_WINDOW", &a.RateLimits.UserWindow)
	e.integer("ADMISSION_IP_REQUESTS", &a.RateLimits.IPRequests)
	e.duration("ADMISSION_IP_WINDOW", &a.RateLimits.IPWindow)
	e.duration("ADMISSION_IDEMPOTENCY_TTL", &a.Idempotency.TTL)
	e.integer("ADMISSION_MAX_PER_USER", &a.Concurrency.MaxPerUser)
	e.duration("ADMISSION_SLOT_TTL", &a.Concurrency.SlotTTL)
	e.duration("ADMISSION_CIRCUIT_COOLDOWN", &a.Circuit.Cooldown)
	e.boolean("ADMISSION_BURST_ENABLED", &a.Burst.Enabled)
	e.float("ADMISSION_BURST_RATE", &a.Burst.RatePerSecond)
	e.integer("ADMISSION_BURST_SIZE", &a.Burst.Burst)

	e.integer("FALLBACK_MAX_ATTEMPTS", &cfg.Fallback.MaxAttempts)
	e.list("FALLBACK_LADDER", &cfg.Fallback.Ladder)

	e.str("STORE_BACKEND", &cfg.Store.Backend)
	e.str("STORE_SQLITE_PATH", &cfg.Store.SQLite.Path)
	e.str("STORE_REDIS_ADDR", &cfg.Store.Redis.Addr)
	e.str("STORE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	e.integer("STORE_REDIS_DB", &cfg.Store.Redis.DB)
	e.str("STORE_REDIS_KEY_PREFIX", &cfg.Store.Redis.KeyPrefix)

	e.str("USAGE_BACKEND", &cfg.Usage.Backend)
	e.str("USAGE_SQLITE_PATH", &cfg.Usage.SQLitePath)
	e.integer("USAGE_RETENTION_DAYS", &cfg.Usage.RetentionDays)
	e.str("USAGE_PRUNE_SCHEDULE", &cfg.Usage.PruneSchedule)
	e.int64("USAGE_MAX_RECORDS", &cfg.Usage.MaxRecords)

	e.str("AUTH_JWT_SECRET", &cfg.Auth.JWT.Secret)
	e.str("AUTH_JWT_ISSUER", &cfg.Auth.JWT.Issuer)
	e.str("AUTH_JWT_AUDIENCE", &cfg.Auth.JWT.Audience)

	e.list("ENTITLEMENT_ALLOWED_TIERS", &cfg.Entitlement.AllowedTiers)
	e.str("ENTITLEMENT_DEFAULT_TIER", &cfg.Entitlement.DefaultTier)

	e.str("CREDENTIALS_DIR", &cfg.Credentials.Dir)
	e.boolean("CREDENTIALS_WATCH", &cfg.Credentials.Watch)
	e.str("CREDENTIALS_SHARED_KEY_ENV", &cfg.Credentials.SharedKeyEnv)
	e.duration("CREDENTIALS_CACHE_TTL", &cfg.Credentials.CacheTTL)

	e.str("MODEL_POLICY_FILE", &cfg.ModelPolicy.File)
	e.boolean("MODEL_POLICY_WATCH", &cfg.ModelPolicy.Watch)

	t := &cfg.Telemetry
	e.str("TELEMETRY_LOGGING_LEVEL", &t.Logging.Level)
	e.str("TELEMETRY_LOGGING_FORMAT", &t.Logging.Format)
	e.boolean("TELEMETRY_LOGGING_REDACT", &t.Logging.Redact)
	e.boolean("TELEMETRY_METRICS_ENABLED", &t.Metrics.Enabled)
	e.str("TELEMETRY_METRICS_PATH", &t.Metrics.Path)
	e.boolean("TELEMETRY_TRACING_ENABLED", &t.Tracing.Enabled)
	e.str("TELEMETRY_TRACING_ENDPOINT", &t.Tracing.Endpoint)
	e.str("TELEMETRY_TRACING_SAMPLER", &t.Tracing.Sampler)
	e.float("TELEMETRY_TRACING_SAMPLE_RATIO", &t.Tracing.SampleRatio)

	if len(e.errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", ValidationError{Errors: e.errs})
	}
	return nil
}
