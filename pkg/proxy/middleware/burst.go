package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mercator-hq/conclave/pkg/orchestrator"
	"mercator-hq/conclave/pkg/proxy"
	"mercator-hq/conclave/pkg/telemetry/metrics"
)

// BurstConfig configures the per-IP token bucket.
type BurstConfig struct {
	// RatePerSecond is the sustained refill rate.
	RatePerSecond float64

	// Burst is the bucket size.
	Burst int

	// IdleTTL drops buckets of IPs not seen for this long.
	// Default: 10m
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BurstGuard rejects request floods from one IP before any authentication
// or store work. It runs in front of the fixed-window limiter and is local
// to the process.
type BurstGuard struct {
	cfg     BurstConfig
	metrics *metrics.Collector
	logger  *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewBurstGuard creates a guard and starts its idle sweeper. Call Stop to
// end the sweeper.
func NewBurstGuard(cfg BurstConfig, collector *metrics.Collector) *BurstGuard {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	g := &BurstGuard{
		cfg:     cfg,
		metrics: collector,
		logger:  slog.Default().With("component", "middleware.burst"),
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

// Allow takes one token for ip. When the bucket is empty it returns false
// and the whole seconds until a token is available.
func (g *BurstGuard) Allow(ip string) (bool, int) {
	now := g.now()

	g.mu.Lock()
	b, ok := g.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), g.cfg.Burst)}
		g.buckets[ip] = b
	}
	b.lastSeen = now
	g.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 1
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, int(math.Ceil(delay.Seconds()))
}

// Middleware wraps next with the guard. The IP comes from
// ClientIPMiddleware, so that must run first.
func (g *BurstGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := GetClientIP(r.Context())
		if ip == "" {
			ip = ResolveClientIP(r, false)
		}

		if ok, retryAfter := g.Allow(ip); !ok {
			g.metrics.RecordRejection(orchestrator.CodeRateLimited)
			g.logger.Warn("burst limit exceeded", "client_ip", ip, "retry_after", retryAfter)
			proxy.WriteError(w, orchestrator.NewRateLimitedError("too many requests from this address", retryAfter))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked IPs.
func (g *BurstGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buckets)
}

// Stop ends the sweeper.
func (g *BurstGuard) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *BurstGuard) sweepLoop() {
	ticker := time.NewTicker(g.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stop:
			return
		}
	}
}

// sweep drops buckets idle for longer than IdleTTL.
func (g *BurstGuard) sweep() {
	cutoff := g.now().Add(-g.cfg.IdleTTL)
	g.mu.Lock()
	defer g.mu.Unlock()
	for ip, b := range g.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(g.buckets, ip)
		}
	}
}
