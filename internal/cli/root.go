// Package cli implements the safeshell command line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "safeshell",
	Short: "Sandboxed shell execution for AI agents",
	Long:  "Runs shell commands behind a security policy and a copy-on-write overlay.\nBlocked commands never spawn a process; writes never reach the source tree.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
