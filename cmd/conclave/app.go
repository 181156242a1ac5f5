package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/conclave/pkg/config"
	"mercator-hq/conclave/pkg/entitlement"
	"mercator-hq/conclave/pkg/limits"
	"mercator-hq/conclave/pkg/limits/storage"
	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/policy"
	"mercator-hq/conclave/pkg/providers"
	"mercator-hq/conclave/pkg/proxy/handlers"
	"mercator-hq/conclave/pkg/routing"
	"mercator-hq/conclave/pkg/security/auth"
	"mercator-hq/conclave/pkg/security/secrets"
	"mercator-hq/conclave/pkg/telemetry/health"
	"mercator-hq/conclave/pkg/telemetry/metrics"
	"mercator-hq/conclave/pkg/usage"
)

// app holds every long-lived component built from the configuration.
type app struct {
	cfg *config.Config

	limits       *limits.Manager
	upstream     *providers.Client
	usage        usage.Store
	pruner       *usage.Pruner
	keys         *secrets.Manager
	policy       *policy.FileSource
	metrics      *metrics.Collector
	health       *health.Checker
	authn        auth.Authenticator
	orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// buildApp wires the components. On error everything built so far is
// closed.
func buildApp(cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.metrics = metrics.NewCollector(cfg.Telemetry.Metrics, nil)

	store, err := openLimitsStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	a.limits = limits.NewManager(store, limitsConfig(cfg.Admission))
	a.closers = append(a.closers, a.limits.Close)

	if a.usage, err = openUsageStore(cfg.Usage); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.usage.Close)
	a.pruner = usage.NewPruner(a.usage, &usage.RetentionConfig{
		RetentionDays: cfg.Usage.RetentionDays,
		PruneSchedule: cfg.Usage.PruneSchedule,
		MaxRecords:    cfg.Usage.MaxRecords,
	})

	if a.keys, err = buildKeys(cfg.Credentials, &a.closers); err != nil {
		return nil, err
	}

	var allowlists policy.Provider
	if cfg.ModelPolicy.File != "" {
		if a.policy, err = policy.NewFileSource(cfg.ModelPolicy.File); err != nil {
			return nil, fmt.Errorf("failed to load model policy: %w", err)
		}
		allowlists = a.policy
	}

	if a.authn, err = buildAuthenticator(cfg.Auth); err != nil {
		return nil, err
	}

	a.upstream = providers.NewClient(providers.Config{
		Name:                cfg.Upstream.Name,
		BaseURL:             cfg.Upstream.BaseURL,
		Timeout:             cfg.Upstream.Timeout,
		StreamTimeout:       cfg.Upstream.StreamTimeout,
		CallTimeout:         cfg.Upstream.CallTimeout,
		MaxRetries:          cfg.Upstream.MaxRetries,
		InitialBackoff:      cfg.Upstream.InitialBackoff,
		MaxBackoff:          cfg.Upstream.MaxBackoff,
		Referer:             cfg.Upstream.Referer,
		Title:               cfg.Upstream.Title,
		MaxIdleConnsPerHost: cfg.Upstream.MaxIdleConnsPerHost,
	})
	a.closers = append(a.closers, a.upstream.Close)

	a.orchestrator, err = orchestrator.New(orchestrator.Deps{
		Limits:   a.limits,
		Upstream: a.upstream,
		Resolver: routing.NewResolver(resolverConfig(cfg.Fallback)),
		Entitlements: entitlement.NewTierChecker(entitlement.Config{
			AllowedTiers: cfg.Entitlement.AllowedTiers,
			DefaultTier:  cfg.Entitlement.DefaultTier,
			BlockedUsers: cfg.Entitlement.BlockedUsers,
		}),
		Keys:    a.keys,
		Usage:   a.usage,
		Policy:  allowlists,
		Metrics: a.metrics,
	}, orchestrator.Config{
		FallbackMaxAttempts: cfg.Fallback.MaxAttempts,
		UpstreamTimeout:     cfg.Upstream.Timeout,
		StreamTimeout:       cfg.Upstream.StreamTimeout,
		UpstreamMaxRetries:  cfg.Upstream.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	a.health = health.New(0)
	handlers.RegisterChecks(a.health, a.limits, a.upstream.Name(), a.usage)

	return a, nil
}

// startBackground starts the retention scheduler and the allowlist
// watcher. Both stop when ctx ends.
func (a *app) startBackground(ctx context.Context) error {
	if err := a.pruner.Scheduler().Start(ctx); err != nil {
		return fmt.Errorf("failed to start usage retention: %w", err)
	}
	a.closers = append(a.closers, func() error {
		a.pruner.Scheduler().Stop()
		return nil
	})

	if a.policy != nil && a.cfg.ModelPolicy.Watch {
		go func() {
			if err := a.policy.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("model policy watcher stopped", "path", a.policy.Path(), "error", err)
			}
		}()
	}
	return nil
}

// Close releases components in reverse construction order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openLimitsStore(cfg config.StoreConfig) (storage.Store, error) {
	store, err := storage.New(storage.Config{
		Backend: cfg.Backend,
		Memory: storage.MemoryConfig{
			MaxEntries:      cfg.Memory.MaxEntries,
			CleanupInterval: cfg.Memory.CleanupInterval,
		},
		SQLite: storage.SQLiteConfig{
			Path:            cfg.SQLite.Path,
			BusyTimeout:     cfg.SQLite.BusyTimeout,
			CleanupInterval: cfg.SQLite.CleanupInterval,
		},
		Redis: storage.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s limits store: %w", cfg.Backend, err)
	}
	return store, nil
}

func openUsageStore(cfg config.UsageConfig) (usage.Store, error) {
	switch cfg.Backend {
	case "memory":
		return usage.NewMemoryStore(), nil
	case "", "sqlite":
		sc := usage.DefaultSQLiteConfig()
		sc.Path = cfg.SQLitePath
		store, err := usage.NewSQLiteStore(sc)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported usage backend: %s", cfg.Backend)
	}
}

// limitsConfig maps the admission section. Negative request counts pass
// through as "disabled".
func limitsConfig(cfg config.AdmissionConfig) limits.Config {
	return limits.Config{
		UserRequests:    cfg.RateLimits.UserRequests,
		UserWindow:      cfg.RateLimits.UserWindow,
		IPRequests:      cfg.RateLimits.IPRequests,
		IPWindow:        cfg.RateLimits.IPWindow,
		IdempotencyTTL:  cfg.Idempotency.TTL,
		MaxConcurrent:   cfg.Concurrency.MaxPerUser,
		SlotTTL:         cfg.Concurrency.SlotTTL,
		CircuitCooldown: cfg.Circuit.Cooldown,
	}
}

func resolverConfig(cfg config.FallbackConfig) routing.Config {
	rc := routing.DefaultConfig()
	if len(cfg.Families) > 0 {
		rc.FamilyFallbacks = cfg.Families
	}
	if len(cfg.Ladder) > 0 {
		rc.GlobalLadder = cfg.Ladder
	}
	if cfg.MaxCandidates > 0 {
		rc.MaxCandidates = cfg.MaxCandidates
	}
	return rc
}

// buildKeys chains the per-user key files and the optional shared key.
func buildKeys(cfg config.CredentialsConfig, closers *[]func() error) (*secrets.Manager, error) {
	var chain []secrets.KeyProvider
	if cfg.Dir != "" {
		fp, err := secrets.NewFileProvider(cfg.Dir, cfg.Watch)
		if err != nil {
			return nil, fmt.Errorf("failed to open credentials directory: %w", err)
		}
		*closers = append(*closers, fp.Close)
		chain = append(chain, fp)
	}
	if cfg.SharedKeyEnv != "" {
		chain = append(chain, secrets.NewEnvProvider(cfg.SharedKeyEnv))
	}
	if len(chain) == 0 {
		slog.Warn("no credential source configured, every request will need a key")
	}
	return secrets.NewManager(chain, secrets.CacheConfig{
		Enabled: cfg.CacheTTL > 0,
		TTL:     cfg.CacheTTL,
	}), nil
}

// buildAuthenticator accepts JWTs first, then static API keys.
func buildAuthenticator(cfg config.AuthConfig) (auth.Authenticator, error) {
	var chain auth.Chain
	if cfg.JWT.Secret != "" {
		chain = append(chain, auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:   cfg.JWT.Secret,
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
		}))
	}
	if len(cfg.APIKeys) > 0 {
		keys := make([]*auth.APIKeyInfo, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, &auth.APIKeyInfo{
				Key:     k.Key,
				UserID:  k.UserID,
				Tier:    k.Tier,
				Enabled: !k.Disabled,
			})
		}
		chain = append(chain, auth.NewAPIKeyValidator(keys))
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no authentication method configured: %w", config.ErrInvalid)
	}
	return chain, nil
}
