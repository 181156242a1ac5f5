package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mercator-hq/conclave/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "Conclave - LLM generation gateway",
	Long: `Conclave admits, routes and delivers LLM generations.

Every request passes authentication, per-user and per-IP rate limits,
idempotency claims and a per-user concurrency slot before it reaches the
model provider. Failed models fall back along a configured ladder, and
every admitted request leaves exactly one usage record.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

// loadEnvFile reads KEY=value pairs into the environment without
// overriding variables that are already set. A missing default file is
// not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && path == ".env" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path (empty uses defaults and environment only)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
}
