package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/conclave/pkg/cli"
	"mercator-hq/conclave/pkg/config"
	"mercator-hq/conclave/pkg/server"
	"mercator-hq/conclave/pkg/telemetry/logging"
	"mercator-hq/conclave/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Conclave server",
	Long: `Start the Conclave server with the specified configuration.

The server exposes POST /generate and POST /generate-stream and keeps
admission state in the configured store (memory, sqlite or redis).

Examples:
  # Start with default config
  conclave run

  # Start with custom config
  conclave run --config /etc/conclave/config.yaml

  # Override listen address
  conclave run --listen 0.0.0.0:8080

  # Build every component without serving
  conclave run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build every component and exit without serving")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("flags", err.Error())
	}

	if _, err := logging.Install(logging.FromConfig(cfg.Telemetry.Logging)); err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to initialize tracing: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	a, err := buildApp(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("error releasing components", "error", err)
		}
	}()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, all components built")
		return nil
	}

	if err := a.startBackground(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	srv, err := server.NewServer(cfg, server.Deps{
		Pipeline:      a.orchestrator,
		Authenticator: a.authn,
		Health:        a.health,
		Metrics:       a.metrics,
		Version: server.VersionInfo{
			Version:   Version,
			Commit:    GitCommit,
			BuildTime: BuildDate,
		},
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	slog.Info("conclave starting",
		"version", Version,
		"config", cfgFile,
		"store", cfg.Store.Backend,
		"usage", cfg.Usage.Backend,
		"upstream", cfg.Upstream.Name,
		"tracing", tracer.Enabled(),
	)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}
