// Package entitlement decides whether a user may run generations at all.
package entitlement

import (
	"context"
	"strings"
	"sync"
)

// Checker answers whether userID on tier may generate.
type Checker interface {
	CanGenerate(ctx context.Context, userID, tier string) (bool, error)
}

// Config lists the tiers that may generate.
type Config struct {
	// AllowedTiers may generate. Empty allows every tier.
	AllowedTiers []string

	// DefaultTier applies to identities that carry no tier.
	DefaultTier string

	// BlockedUsers are denied regardless of tier.
	BlockedUsers []string
}

// TierChecker is the config-driven Checker.
type TierChecker struct {
	mu          sync.RWMutex
	allowed     map[string]bool
	blocked     map[string]bool
	defaultTier string
}

// NewTierChecker builds a checker from cfg.
func NewTierChecker(cfg Config) *TierChecker {
	c := &TierChecker{}
	c.Update(cfg)
	return c
}

// Update swaps the rules.
func (c *TierChecker) Update(cfg Config) {
	allowed := make(map[string]bool, len(cfg.AllowedTiers))
	for _, t := range cfg.AllowedTiers {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}
	blocked := make(map[string]bool, len(cfg.BlockedUsers))
	for _, u := range cfg.BlockedUsers {
		blocked[u] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed = allowed
	c.blocked = blocked
	c.defaultTier = strings.ToLower(strings.TrimSpace(cfg.DefaultTier))
}

// CanGenerate implements Checker.
func (c *TierChecker) CanGenerate(ctx context.Context, userID, tier string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.blocked[userID] {
		return false, nil
	}
	if len(c.allowed) == 0 {
		return true, nil
	}

	tier = strings.ToLower(strings.TrimSpace(tier))
	if tier == "" {
		tier = c.defaultTier
	}
	return c.allowed[tier], nil
}

// AllowAll is a Checker that always allows.
type AllowAll struct{}

// CanGenerate implements Checker.
func (AllowAll) CanGenerate(context.Context, string, string) (bool, error) {
	return true, nil
}
