package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/psp-hub/platform/internal/shared/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := database.Migrate(ctx, db.Pool)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if len(applied) == 0 {
			pterm.Info.Println("Schema is up to date.")
			return nil
		}
		for _, v := range applied {
			pterm.Success.Printf("Applied %s\n", v)
		}
		return nil
	},
}
