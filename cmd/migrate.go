package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hotelops/livesync/internal/config"
	"github.com/hotelops/livesync/internal/db"
	"github.com/hotelops/livesync/internal/mirror"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the offline mirror schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqliteDB, err := db.NewSQLiteConnection(cfg.Mirror.Path, db.SQLiteOpts{
			PingTimeout: cfg.Mirror.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		defer func() { _ = sqliteDB.Close() }()

		if err := mirror.NewSQLiteStore(sqliteDB).Migrate(context.Background()); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}

		fmt.Println(">> Mirror schema ready")
		return nil
	},
}
