package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig controls usage pruning.
type RetentionConfig struct {
	// RetentionDays is how long events are kept. 0 keeps them forever.
	RetentionDays int

	// PruneSchedule is a cron expression, e.g. "0 3 * * *". Empty disables
	// the scheduler.
	PruneSchedule string

	// MaxRecords caps the table size. 0 means unlimited.
	MaxRecords int64
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RetentionDays: 90,
		PruneSchedule: "0 3 * * *",
	}
}

// Pruner enforces retention on a Store.
type Pruner struct {
	store     Store
	config    *RetentionConfig
	logger    *slog.Logger
	scheduler *Scheduler
	now       func() time.Time
}

// NewPruner creates a pruner for store.
func NewPruner(store Store, config *RetentionConfig) *Pruner {
	if config == nil {
		config = DefaultRetentionConfig()
	}
	p := &Pruner{
		store:  store,
		config: config,
		logger: slog.Default().With("component", "usage.retention"),
		now:    time.Now,
	}
	p.scheduler = NewScheduler(p)
	return p
}

// Scheduler returns the pruner's cron scheduler.
func (p *Pruner) Scheduler() *Scheduler {
	return p.scheduler
}

// Prune deletes events past the retention period, then trims the store to
// MaxRecords. It returns the total number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	return p.PruneOlderThan(ctx, time.Duration(p.config.RetentionDays)*24*time.Hour)
}

// PruneOlderThan is Prune with an explicit age. A zero age skips the
// age-based phase.
func (p *Pruner) PruneOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	var total int64

	if age > 0 {
		cutoff := p.now().Add(-age)
		deleted, err := p.store.DeleteBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune by age failed: %w", err)
		}
		total += deleted
		p.logger.Debug("pruned usage by age", "deleted_count", deleted, "cutoff_time", cutoff)
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.store.TrimTo(ctx, p.config.MaxRecords)
		if err != nil {
			return total, fmt.Errorf("prune by count failed: %w", err)
		}
		total += deleted
		p.logger.Debug("pruned usage by count", "deleted_count", deleted, "max_records", p.config.MaxRecords)
	}

	if total > 0 {
		p.logger.Info("usage pruning completed", "total_deleted", total)
	}
	return total, nil
}
