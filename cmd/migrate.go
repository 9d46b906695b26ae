package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Connect to the configured database and apply pending migrations.
The serve command migrates on startup as well; this command is for running
migrations ahead of a deploy.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if _, err := initStorage(cfg); err != nil {
		return err
	}
	defer closeStorage()

	pool := postgres.GetGlobalPool()
	if pool == nil {
		fmt.Printf("%s schema is up to date\n", database.BackendName())
		return nil
	}

	applied, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	fmt.Printf("PostgreSQL schema is up to date (%d migrations applied)\n", len(applied))
	for _, name := range applied {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
