package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/mandates/internal/bootstrap"
	"github.com/punchamoorthee/mandates/internal/config"
	"github.com/punchamoorthee/mandates/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres schema migrations",
	Long: `Apply the embedded schema migrations to DB_SOURCE.

Running it against an up-to-date schema is a no-op. The bolt backend has no
schema and is rejected.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Backend != config.BackendPostgres {
		return fmt.Errorf("migrate needs STORE_BACKEND=%s, got %q", config.BackendPostgres, cfg.Backend)
	}

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	return store.Migrate(cfg.DBSource, logger)
}
