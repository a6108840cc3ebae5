package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/helpdeck/helpdeck/db"
	"github.com/helpdeck/helpdeck/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Migrate applies pending schema migrations and exits. Serve runs
migrations automatically; this command exists for deploy pipelines that
migrate before rolling out new instances.`,
		RunE: func(*cobra.Command, []string) error {
			return runMigrate()
		},
	}
}

func runMigrate() error {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := db.Migrate(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("migrations applied")
	return nil
}
