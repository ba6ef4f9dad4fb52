// Package cmd implements the chatbi command line. The CLI is an operator
// surface only; the pipeline itself is consumed as a library.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatbi",
	Short: "chatbi - SQL knowledge pipeline tooling",
	Long: `chatbi manages the retrieval-augmented SQL knowledge base:
inspect store statistics, validate knowledge records before import,
and check the configured backends.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
