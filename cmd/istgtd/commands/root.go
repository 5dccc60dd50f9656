// Package commands implements istgtd's CLI commands.
//
// Grounded on dittofs's cmd/dittofs/commands/root.go: a cobra root
// command with a persistent --config flag and one child command per
// server lifecycle action. Adapted down to a `start` action, which is
// also what the root command runs when no subcommand is given (spec.md
// §6: "a single entry point that starts the server. No command-line flags
// are required"), plus a `version` command, keeping the --config flag
// cobra already gives every subcommand for free.
package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd is istgtd's base command, run when no subcommand is given.
var rootCmd = &cobra.Command{
	Use:           "istgtd",
	Short:         "istgtd - a user-space iSCSI target",
	Long:          `istgtd exposes one or more block-addressable storage volumes over TCP as an iSCSI target.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runStart,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "/etc/istgtd/istgtd.xml", "path to the XML configuration file")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}
