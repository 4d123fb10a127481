package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindlog/social_layer/internal/config"
	"github.com/mindlog/social_layer/internal/platform/migrations"
	"github.com/mindlog/social_layer/internal/storage/postgres"
)

const migrateTimeout = 30 * time.Second

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down|version>",
	Short:     "Manage the postgres schema",
	Long:      "Applies the embedded migrations to DATABASE_URL. Only used with BACKEND=postgres; Supabase projects manage their schema themselves.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Backend != config.BackendPostgres {
			return fmt.Errorf("migrate requires BACKEND=postgres (got %q)", cfg.Backend)
		}

		ctx, cancel := withTimeout(migrateTimeout)
		defer cancel()
		db, err := postgres.Open(ctx, cfg.Postgres.DSN, 1)
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		switch args[0] {
		case "up":
			if err := migrations.Up(db.DB); err != nil {
				return err
			}
		case "down":
			if err := migrations.Down(db.DB, migrateSteps); err != nil {
				return err
			}
		}

		version, dirty, err := migrations.Version(db.DB)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "schema version %d (dirty=%v)\n", version, dirty)
		return nil
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 1, "Number of migrations to roll back with down")
}
