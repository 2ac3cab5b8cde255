package main

import (
	"fmt"

	"github.com/datapulse/orchestrator/internal/config"
	"github.com/datapulse/orchestrator/internal/pkg/postgres"
	"github.com/datapulse/orchestrator/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != config.StorageDriverPostgres {
				return fmt.Errorf("migrate requires storage.driver %q, got %q", config.StorageDriverPostgres, cfg.Storage.Driver)
			}

			direction := postgres.Direction(args[0])
			if err := postgres.Migrate(migrations.FS, cfg.Database.URL, direction); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "migrations %s complete\n", direction)
			return nil
		},
	}
}
