package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the admin CLI. Subcommands (bootstrap, ca)
// are attached here.
var rootCmd = &cobra.Command{
	Use:           "nofrillsdb",
	Short:         "nofrillsdb admin CLI",
	Long:          "Administrative utilities for nofrillsdb (registry bootstrap, client CA management).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
