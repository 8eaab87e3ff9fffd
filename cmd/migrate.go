package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sapwiki/sapwiki/db"
	"github.com/sapwiki/sapwiki/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Applies all pending schema migrations and exits. The serve command
also migrates on startup; this command exists for deployments that run
migrations as a separate step.`,
	RunE: func(*cobra.Command, []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// No API key needed: migrations touch only the database.
	logger := newLogger(cfg)
	return db.Migrate(cfg.PostgresURL(), logger)
}
