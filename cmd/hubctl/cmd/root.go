// Package cmd implements hubctl, the operator CLI for PSP Hub.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psp-hub/platform/internal/shared/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "hubctl",
	Short: "PSP Hub CLI - session tokens, roles and audit trail",
	Long: `hubctl administers a PSP Hub deployment. It reads the same environment
as the server (DB_*, KURRENTDB_*, JWT_*, AUDIT_*) and talks to the backing
stores directly.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(auditCmd)
}
