package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"filevault/internal/config"
	"filevault/internal/infra/persistence/postgres"
	"filevault/internal/infra/persistence/sqlite"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the metadata schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := config.SetupLogger(cfg)
			switch cfg.MetadataDriver {
			case "postgres":
				return postgres.Migrate(cfg.DatabaseURL, logger)
			case "sqlite":
				store, err := sqlite.NewStore(cmd.Context(), cfg.SQLitePath)
				if err != nil {
					return err
				}
				logger.Info("sqlite schema applied", "path", cfg.SQLitePath)
				return store.Close()
			default:
				return fmt.Errorf("metadata driver %q has no schema to migrate", cfg.MetadataDriver)
			}
		},
	}
}
