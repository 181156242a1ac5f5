package limits

import (
	"time"

	"mercator-hq/conclave/pkg/limits/circuit"
	"mercator-hq/conclave/pkg/limits/concurrency"
	"mercator-hq/conclave/pkg/limits/idempotency"
	"mercator-hq/conclave/pkg/limits/ratelimit"
	"mercator-hq/conclave/pkg/limits/storage"
)

// Config holds the limits applied to every generation request.
type Config struct {
	// UserRequests is the number of requests a user may make per UserWindow.
	UserRequests int
	UserWindow   time.Duration

	// IPRequests is the number of requests a client IP may make per IPWindow.
	IPRequests int
	IPWindow   time.Duration

	// IdempotencyTTL is how long a claimed key suppresses duplicates.
	IdempotencyTTL time.Duration

	// MaxConcurrent is the number of in-flight requests per user.
	MaxConcurrent int

	// SlotTTL expires slots that were never released.
	SlotTTL time.Duration

	// CircuitCooldown is how long the provider circuit stays open.
	CircuitCooldown time.Duration
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		UserRequests:    10,
		UserWindow:      time.Minute,
		IPRequests:      30,
		IPWindow:        time.Minute,
		IdempotencyTTL:  120 * time.Second,
		MaxConcurrent:   2,
		SlotTTL:         180 * time.Second,
		CircuitCooldown: 20 * time.Second,
	}
}

// Manager bundles the admission gates over one store.
type Manager struct {
	RateLimiter *ratelimit.Limiter
	Claims      *idempotency.Store
	Slots       *concurrency.Manager
	Circuit     *circuit.Breaker

	store storage.Store
	cfg   Config
}

// NewManager builds every gate on store. Zero fields in cfg take the
// values from DefaultConfig.
func NewManager(store storage.Store, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.UserWindow <= 0 {
		cfg.UserWindow = def.UserWindow
	}
	if cfg.IPWindow <= 0 {
		cfg.IPWindow = def.IPWindow
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.SlotTTL <= 0 {
		cfg.SlotTTL = def.SlotTTL
	}
	if cfg.CircuitCooldown <= 0 {
		cfg.CircuitCooldown = def.CircuitCooldown
	}

	return &Manager{
		RateLimiter: ratelimit.NewLimiter(store),
		Claims:      idempotency.NewStore(store),
		Slots:       concurrency.NewManager(store),
		Circuit:     circuit.NewBreaker(store),
		store:       store,
		cfg:         cfg,
	}
}

// Config returns the effective limits.
func (m *Manager) Config() Config {
	return m.cfg
}

// Store returns the backing store.
func (m *Manager) Store() storage.Store {
	return m.store
}

// Close closes the backing store.
func (m *Manager) Close() error {
	return m.store.Close()
}
