package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"watchtower/internal/constants"
	"watchtower/internal/logger"
	"watchtower/pkg/logging"
)

var verbose bool

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   constants.CLIName,
		Short: "Validate and run data quality rules locally",
		Long: `dqctl checks data quality rules without a running engine.

Rules use the same DSL as the engine service, for example:
  NOT_NULL(email)
  IN_RANGE(age, 18, 65)
  REGEX(email, "^[^@]+@[^@]+$")
  FOREIGN_KEY(country, countries, code)
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newCheckCmd())
	return rootCmd
}

func newLogger() logger.Logger {
	if !verbose {
		return logger.NopLogger()
	}
	log, err := logger.NewWithFormat("debug", "console")
	if err != nil {
		logging.NewEarlyLog().Warn("Failed to init logger: %v", err)
		return logger.NopLogger()
	}
	return log
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errViolations) {
			logging.NewEarlyLog().Warn("%v", err)
		}
		os.Exit(1)
	}
}
