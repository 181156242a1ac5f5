package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// CheckFunc performs a health check and returns nil when healthy.
type CheckFunc func(ctx context.Context) error

// Severity decides how a failing check affects readiness.
type Severity int

const (
	// Critical checks make the instance not ready.
	Critical Severity = iota
	// Advisory checks only mark the instance degraded.
	Advisory
)

// Status values.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusNotReady  = "not_ready"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Critical bool   `json:"critical"`
	// DurationMS is how long the check took.
	DurationMS int64 `json:"duration_ms"`
}

// HealthStatus is the aggregated result.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Ready reports whether no critical check failed.
func (s HealthStatus) Ready() bool {
	return s.Status != StatusNotReady
}

type registered struct {
	fn       CheckFunc
	severity Severity
}

// Checker runs registered readiness checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]registered

	checkTimeout time.Duration
}

// ErrCheckTimeout is reported when a check exceeds its timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// New creates a checker. A zero timeout defaults to 2 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 2 * time.Second
	}
	return &Checker{
		checks:       make(map[string]registered),
		checkTimeout: checkTimeout,
	}
}

// RegisterCheck adds or replaces the check called name.
func (c *Checker) RegisterCheck(name string, severity Severity, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{fn: check, severity: severity}
}

// ListChecks returns the registered check names, sorted.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckLiveness reports that the process is serving.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return HealthStatus{Status: StatusOK, Timestamp: time.Now()}
}

// CheckReadiness runs every check concurrently. A failing critical check
// yields not_ready; a failing advisory check yields degraded.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check registered) {
			defer wg.Done()
			result := c.runCheck(ctx, check)
			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := StatusReady
	for _, result := range results {
		if result.Status != StatusUnhealthy {
			continue
		}
		if result.Critical {
			status = StatusNotReady
			break
		}
		status = StatusDegraded
	}

	return HealthStatus{Status: status, Checks: results, Timestamp: time.Now()}
}

func (c *Checker) runCheck(ctx context.Context, check registered) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	errChan := make(chan error, 1)
	go func() {
		errChan <- check.fn(checkCtx)
	}()

	result := CheckResult{Critical: check.severity == Critical}
	select {
	case err := <-errChan:
		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
		} else {
			result.Status = StatusOK
		}
	case <-checkCtx.Done():
		result.Status = StatusUnhealthy
		result.Message = ErrCheckTimeout.Error()
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}
