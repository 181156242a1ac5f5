package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mercator-hq/conclave/pkg/cli"
	"mercator-hq/conclave/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration, apply defaults and CONCLAVE_* environment
overrides, and report every problem found.

Examples:
  conclave validate --config config.yaml
  conclave validate --config config.yaml --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
}

// validationReport is the machine-readable validate result.
type validationReport struct {
	Valid  bool                `json:"valid"`
	File   string              `json:"file"`
	Errors []config.FieldError `json:"errors,omitempty"`
	Detail string              `json:"detail,omitempty"`
}

func validateConfig(cmd *cobra.Command, args []string) error {
	report := validationReport{Valid: true, File: cfgFile}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err == nil {
		_, err = buildAuthenticator(cfg.Auth)
	}
	if err != nil {
		report.Valid = false
		var verr config.ValidationError
		if errors.As(err, &verr) {
			report.Errors = verr.Errors
		} else {
			report.Detail = err.Error()
		}
	}

	if err := writeValidationReport(cmd.OutOrStdout(), cli.OutputFormat(validateFlags.format), report); err != nil {
		return err
	}
	if !report.Valid {
		return cli.NewConfigError(cfgFile, "configuration is invalid")
	}
	return nil
}

func writeValidationReport(w io.Writer, format cli.OutputFormat, r validationReport) error {
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(w, r)
	}
	if r.Valid {
		_, err := fmt.Fprintf(w, "✓ %s is valid\n", r.File)
		return err
	}
	fmt.Fprintf(w, "✗ %s is invalid\n", r.File)
	for _, fe := range r.Errors {
		fmt.Fprintf(w, "  - %s\n", fe.Error())
	}
	if r.Detail != "" {
		fmt.Fprintf(w, "  - %s\n", r.Detail)
	}
	return nil
}
