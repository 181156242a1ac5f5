package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/conclave/pkg/cli"
	"mercator-hq/conclave/pkg/config"
	"mercator-hq/conclave/pkg/usage"
)

var usageFlags struct {
	olderThan  time.Duration
	maxRecords int64
	format     string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Manage recorded usage events",
}

var usagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete usage events past retention",
	Long: `Apply usage retention immediately instead of waiting for the
scheduled run.

Without flags the configured usage.retention_days and usage.max_records
are used.

Examples:
  # Apply the configured retention
  conclave usage prune

  # Delete everything older than 30 days
  conclave usage prune --older-than 720h

  # Keep only the newest 100000 events
  conclave usage prune --max-records 100000`,
	RunE: pruneUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usagePruneCmd)

	usagePruneCmd.Flags().DurationVar(&usageFlags.olderThan, "older-than", 0, "delete events older than this age (overrides retention_days)")
	usagePruneCmd.Flags().Int64Var(&usageFlags.maxRecords, "max-records", 0, "keep at most this many events (overrides max_records)")
	usagePruneCmd.Flags().StringVar(&usageFlags.format, "format", "text", "output format: text, json")
}

type pruneResult struct {
	Deleted   int64 `json:"deleted"`
	Remaining int64 `json:"remaining"`
}

func pruneUsage(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}
	if cfg.Usage.Backend == "memory" {
		return cli.NewConfigError("usage.backend", "the memory backend keeps nothing between runs")
	}

	store, err := openUsageStore(cfg.Usage)
	if err != nil {
		return cli.NewCommandError("usage prune", err)
	}
	defer store.Close()

	retention := &usage.RetentionConfig{
		RetentionDays: cfg.Usage.RetentionDays,
		MaxRecords:    cfg.Usage.MaxRecords,
	}
	if usageFlags.maxRecords > 0 {
		retention.MaxRecords = usageFlags.maxRecords
	}
	pruner := usage.NewPruner(store, retention)

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	var deleted int64
	if usageFlags.olderThan > 0 {
		deleted, err = pruner.PruneOlderThan(ctx, usageFlags.olderThan)
	} else {
		deleted, err = pruner.Prune(ctx)
	}
	if err != nil {
		return cli.NewCommandError("usage prune", err)
	}

	remaining, err := store.Count(ctx)
	if err != nil {
		return cli.NewCommandError("usage prune", err)
	}

	res := pruneResult{Deleted: deleted, Remaining: remaining}
	if cli.OutputFormat(usageFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d usage events, %d remaining\n", res.Deleted, res.Remaining)
	return nil
}
