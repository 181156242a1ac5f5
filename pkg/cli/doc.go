// Package cli provides helpers shared by the conclave commands: output
// formatting, typed command errors with exit codes, and signal handling.
//
//	ctx, stop := cli.SetupSignalHandler()
//	defer stop()
//
//	if err := run(ctx); err != nil {
//	    os.Exit(cli.ExitCode(err))
//	}
package cli
