package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hotelops/livesync/internal/config"
	"github.com/hotelops/livesync/internal/db"
	"github.com/hotelops/livesync/internal/mirror"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror <category>",
	Short: "Dump offline mirror entries for a category",
	Args:  cobra.ExactArgs(1),
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

		entries, err := mirror.NewSQLiteStore(sqliteDB).GetAll(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("read mirror: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		fmt.Fprintf(os.Stderr, ">> %d entries\n", len(entries))
		return nil
	},
}
