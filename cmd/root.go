// Package cmd implements the sapwiki command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sapwiki",
	Short: "sapwiki - multi-tenant SAP IS-U knowledge base",
	Long: `sapwiki ingests SAP IS-U support documentation into a tenant-scoped
knowledge base and answers questions grounded in it.

Run "sapwiki serve" to start the HTTP API, "sapwiki ingest" to load
documents from disk, or "sapwiki ask" for a one-shot question.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
