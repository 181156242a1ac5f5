package handlers

import (
	"context"
	"fmt"

	"mercator-hq/conclave/pkg/limits"
	"mercator-hq/conclave/pkg/telemetry/health"
	"mercator-hq/conclave/pkg/usage"
)

// RegisterChecks wires the readiness checks of the generation pipeline.
//
// The limits store is critical: without it every request fails closed. An
// open provider circuit and a failing usage store only degrade readiness,
// since requests are still answered.
func RegisterChecks(c *health.Checker, lm *limits.Manager, provider string, store usage.Store) {
	if lm != nil {
		c.RegisterCheck("limits_store", health.Critical, func(ctx context.Context) error {
			return lm.Store().Ping(ctx)
		})

		if provider != "" {
			c.RegisterCheck("upstream_circuit", health.Advisory, func(ctx context.Context) error {
				secs, err := lm.Circuit.CooldownSeconds(ctx, provider)
				if err != nil {
					return err
				}
				if secs > 0 {
					return fmt.Errorf("circuit open for %s, %ds remaining", provider, secs)
				}
				return nil
			})
		}
	}

	if store != nil {
		c.RegisterCheck("usage_store", health.Advisory, func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		})
	}
}
