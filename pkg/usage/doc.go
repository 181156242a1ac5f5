// Package usage records one UsageEvent per finalized generation request.
//
// Events are keyed by request ID. Recording the same request ID twice keeps
// the first event, so a retried finalize never double-counts.
//
// # Backends
//
//   - Memory: in-process map, for tests and single-shot tools
//   - SQLite: durable table (mattn/go-sqlite3), WAL mode
//
// # Retention
//
// A Pruner deletes events older than RetentionDays and trims the table to
// MaxRecords. A Scheduler runs the pruner on a cron schedule:
//
//	pruner := usage.NewPruner(store, &usage.RetentionConfig{
//	    RetentionDays: 30,
//	    PruneSchedule: "0 3 * * *",
//	})
//	if err := pruner.Scheduler().Start(ctx); err != nil {
//	    return err
//	}
package usage
