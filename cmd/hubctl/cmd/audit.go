package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/psp-hub/platform/internal/audit"
	"github.com/psp-hub/platform/internal/kurrentdb"
	"github.com/psp-hub/platform/internal/shared/database"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read and verify the audit trail",
}

var (
	auditLimit   int
	auditDetails bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAudit(cmd.Context(), func(ctx context.Context, repo audit.Repository) error {
			entries, err := repo.List(ctx, auditLimit)
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}
			if len(entries) == 0 {
				pterm.Info.Println("The audit trail is empty.")
				return nil
			}

			table := pterm.TableData{{"SEQ", "DATE", "TIME", "ACTOR", "ROLE", "ACTION"}}
			for _, e := range entries {
				table = append(table, []string{
					strconv.FormatInt(e.Sequence, 10), e.LocalDate, e.LocalTime, e.ActorName, e.ActorRole, e.Action,
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		})
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain of the newest entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAudit(cmd.Context(), func(ctx context.Context, repo audit.Repository) error {
			result, err := repo.VerifyChain(ctx, auditLimit, auditDetails)
			if err != nil {
				return fmt.Errorf("failed to verify chain: %w", err)
			}

			if result.Valid {
				pterm.Success.Printf("%d entries verified\n", result.Checked)
				return nil
			}

			pterm.Error.Printf("Chain invalid across %d entries: %d content, %d linkage violations\n",
				result.Checked, result.ContentInvalid, result.LinkageInvalid)
			for _, v := range result.Violations {
				pterm.Error.Println(v)
			}
			if auditDetails {
				table := pterm.TableData{{"SEQ", "ACTION", "VIOLATION", "STORED", "COMPUTED"}}
				for _, e := range result.Entries {
					if e.Valid {
						continue
					}
					table = append(table, []string{strconv.FormatInt(e.Sequence, 10), e.Action, e.ViolationType, e.Hash, e.ComputedHash})
				}
				_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()
			}
			return fmt.Errorf("audit chain is invalid")
		})
	},
}

// withAudit opens the configured persistent audit backend.
func withAudit(parent context.Context, fn func(context.Context, audit.Repository) error) error {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	var repo audit.Repository
	switch cfg.Audit.Backend {
	case "postgres":
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = audit.NewPostgresRepository(db.Pool)
	case "kurrentdb":
		client, err := kurrentdb.NewClient(kurrentdb.FromConfig(cfg.KurrentDB))
		if err != nil {
			return err
		}
		defer client.Close()
		repo = audit.NewKurrentDBRepository(client, cfg.Audit.Stream)
	default:
		return fmt.Errorf("AUDIT_BACKEND=%s keeps no persistent trail", cfg.Audit.Backend)
	}

	if err := repo.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to open audit trail: %w", err)
	}
	return fn(ctx, repo)
}

func init() {
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "Number of newest entries")
	auditVerifyCmd.Flags().BoolVar(&auditDetails, "details", false, "Show every broken entry")
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}
