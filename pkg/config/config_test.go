package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
auth:
  api_keys:
    - key: ck_test_0001
      user_id: user-1
      tier: pro
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conclave.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("Expected listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
	}
	if cfg.Admission.RateLimits.UserRequests != 10 {
		t.Errorf("Expected 10 user requests, got %d", cfg.Admission.RateLimits.UserRequests)
	}
	if cfg.Admission.RateLimits.IPRequests != 30 {
		t.Errorf("Expected 30 IP requests, got %d", cfg.Admission.RateLimits.IPRequests)
	}
	if cfg.Admission.Idempotency.TTL != 120*time.Second {
		t.Errorf("Expected idempotency TTL 120s, got %v", cfg.Admission.Idempotency.TTL)
	}
	if cfg.Admission.Concurrency.MaxPerUser != 2 {
		t.Errorf("Expected 2 slots per user, got %d", cfg.Admission.Concurrency.MaxPerUser)
	}
	if cfg.Admission.Concurrency.SlotTTL != 180*time.Second {
		t.Errorf("Expected slot TTL 180s, got %v", cfg.Admission.Concurrency.SlotTTL)
	}
	if cfg.Admission.Circuit.Cooldown != 20*time.Second {
		t.Errorf("Expected cooldown 20s, got %v", cfg.Admission.Circuit.Cooldown)
	}
	if cfg.Fallback.MaxAttempts != 3 {
		t.Errorf("Expected 3 fallback attempts, got %d", cfg.Fallback.MaxAttempts)
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected metrics enabled by default")
	}
	if !cfg.Admission.Burst.Enabled {
		t.Error("Expected burst guard enabled by default")
	}
	if !cfg.Telemetry.Logging.Redact {
		t.Error("Expected redaction enabled by default")
	}
}

func TestLoadConfig_ExplicitFalseSurvives(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML+`
telemetry:
  metrics:
    enabled: false
admission:
  burst:
    enabled: false
`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected metrics disabled")
	}
	if cfg.Admission.Burst.Enabled {
		t.Error("Expected burst guard disabled")
	}
}

func TestLoadConfig_FileValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML+`
server:
  listen_address: "0.0.0.0:9000"
admission:
  rate_limits:
    user_requests: 5
    user_window: 30s
store:
  backend: redis
  redis:
    addr: "redis:6379"
fallback:
  ladder: ["a/one", "b/two"]
`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("Expected 0.0.0.0:9000, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Admission.RateLimits.UserRequests != 5 || cfg.Admission.RateLimits.UserWindow != 30*time.Second {
		t.Errorf("Expected 5 per 30s, got %d per %v",
			cfg.Admission.RateLimits.UserRequests, cfg.Admission.RateLimits.UserWindow)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.Redis.Addr != "redis:6379" {
		t.Errorf("Unexpected store config: %+v", cfg.Store)
	}
	if len(cfg.Fallback.Ladder) != 2 {
		t.Errorf("Expected 2 ladder entries, got %d", len(cfg.Fallback.Ladder))
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server: [unclosed"))
	if err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	t.Setenv("CONCLAVE_SERVER_LISTEN_ADDRESS", "127.0.0.1:7000")
	t.Setenv("CONCLAVE_ADMISSION_USER_REQUESTS", "42")
	t.Setenv("CONCLAVE_ADMISSION_CIRCUIT_COOLDOWN", "45s")
	t.Setenv("CONCLAVE_TELEMETRY_METRICS_ENABLED", "false")
	t.Setenv("CONCLAVE_ENTITLEMENT_ALLOWED_TIERS", "pro, team")

	cfg, err := LoadConfigWithEnvOverrides(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:7000" {
		t.Errorf("Expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Admission.RateLimits.UserRequests != 42 {
		t.Errorf("Expected 42 user requests, got %d", cfg.Admission.RateLimits.UserRequests)
	}
	if cfg.Admission.Circuit.Cooldown != 45*time.Second {
		t.Errorf("Expected cooldown 45s, got %v", cfg.Admission.Circuit.Cooldown)
	}
	if cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected metrics disabled by env")
	}
	if got := cfg.Entitlement.AllowedTiers; len(got) != 2 || got[0] != "pro" || got[1] != "team" {
		t.Errorf("Expected [pro team], got %v", got)
	}
}

func TestLoadConfigWithEnvOverrides_MalformedValue(t *testing.T) {
	t.Setenv("CONCLAVE_ADMISSION_SLOT_TTL", "forever")

	_, err := LoadConfigWithEnvOverrides(writeConfig(t, minimalYAML))
	if err == nil {
		t.Fatal("Expected error for malformed duration")
	}
	if !strings.Contains(err.Error(), "CONCLAVE_ADMISSION_SLOT_TTL") {
		t.Errorf("Expected error to name the variable, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("CONCLAVE_AUTH_JWT_SECRET", "0123456789abcdef0123")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}
	if cfg.Auth.JWT.Secret == "" {
		t.Error("Expected JWT secret from env")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "nope" }, "server.listen_address"},
		{"bad base url", func(c *Config) { c.Upstream.BaseURL = "ftp://x" }, "upstream.base_url"},
		{"call timeout below attempt timeout", func(c *Config) {
			c.Upstream.Timeout = 30 * time.Second
			c.Upstream.CallTimeout = 10 * time.Second
		}, "upstream.call_timeout"},
		{"zero slots", func(c *Config) { c.Admission.Concurrency.MaxPerUser = -1 }, "admission.concurrency.max_per_user"},
		{"too many candidates", func(c *Config) { c.Fallback.MaxCandidates = 9 }, "fallback.max_candidates"},
		{"unknown store", func(c *Config) { c.Store.Backend = "etcd" }, "store.backend"},
		{"bad cron", func(c *Config) { c.Usage.PruneSchedule = "every day" }, "usage.prune_schedule"},
		{"no auth", func(c *Config) { c.Auth = AuthConfig{} }, "auth"},
		{"short secret", func(c *Config) { c.Auth.JWT.Secret = "short" }, "auth.jwt.secret"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }, "telemetry.logging.level"},
		{"bad sampler", func(c *Config) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.Sampler = "sometimes"
		}, "telemetry.tracing.sampler"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			cfg.Auth.APIKeys = []APIKeyConfig{{Key: "k", UserID: "u"}}
			tt.modify(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected error on %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := NewDefault()
	cfg.Store.Backend = "etcd"

	err := Validate(cfg)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("Expected 2 errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
	if !strings.Contains(err.Error(), "with 2 errors") {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if !errors.Is(err, ErrInvalid) {
		t.Error("Expected errors.Is(err, ErrInvalid)")
	}
}

func TestSingleton(t *testing.T) {
	SetConfig(nil)
	if GetConfig() != nil {
		t.Fatal("Expected nil config")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected MustGetConfig to panic")
			}
		}()
		MustGetConfig()
	}()

	path := writeConfig(t, minimalYAML)
	if err := ReloadConfig(path); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if MustGetConfig().Auth.APIKeys[0].UserID != "user-1" {
		t.Error("Expected reloaded config")
	}

	before := GetConfig()
	if err := ReloadConfig(writeConfig(t, "store:\n  backend: etcd\n")); err == nil {
		t.Error("Expected reload error")
	}
	if GetConfig() != before {
		t.Error("Expected failed reload to keep previous config")
	}
	SetConfig(nil)
}
