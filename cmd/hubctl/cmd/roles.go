package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/docstore"
	"github.com/psp-hub/platform/internal/shared/database"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Inspect and assign stored ranks",
	Long: `Role documents live in the Postgres document store, one per identity id.
A stored rank overrides the static username table at the next sign-in.`,
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored role documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *docstore.Postgres) error {
			docs, err := readCollection(ctx, store, cfg.Roster.RolesCollection)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				pterm.Info.Println("No role documents stored.")
				return nil
			}

			table := pterm.TableData{{"UID", "ROLE", "LEVEL", "SUPERIOR"}}
			for _, d := range docs {
				stored, _ := d.Fields["role"].(string)
				role := auth.ParseRole(stored)
				table = append(table, []string{d.ID, stored, strconv.Itoa(role.Level()), strconv.FormatBool(auth.IsSuperior(role))})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		})
	},
}

var rolesSetCmd = &cobra.Command{
	Use:   "set UID ROLE",
	Short: "Assign a rank to an identity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, ok := auth.LookupRole(args[1])
		if !ok {
			return fmt.Errorf("unknown rank %q (see `hubctl roles ranks`)", args[1])
		}
		return withStore(cmd.Context(), func(ctx context.Context, store *docstore.Postgres) error {
			if err := store.Set(ctx, cfg.Roster.RolesCollection, args[0], map[string]any{"role": string(role)}); err != nil {
				return fmt.Errorf("failed to store role: %w", err)
			}
			pterm.Success.Printf("%s is now %s\n", args[0], role)
			return nil
		})
	},
}

var rolesRanksCmd = &cobra.Command{
	Use:   "ranks",
	Short: "Print the rank hierarchy",
	RunE: func(cmd *cobra.Command, args []string) error {
		table := pterm.TableData{{"ROLE", "LEVEL", "CAREER", "SUPERIOR", "TIER"}}
		for _, r := range auth.Hierarchy() {
			table = append(table, []string{string(r.Role), strconv.Itoa(r.Level), r.Career, strconv.FormatBool(r.Superior), string(r.Tier)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	},
}

func withStore(parent context.Context, fn func(context.Context, *docstore.Postgres) error) error {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, docstore.NewPostgres(db.Pool))
}

// readCollection takes the first snapshot of a subscription.
func readCollection(ctx context.Context, store docstore.Subscriber, collection string) ([]docstore.Document, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := store.Subscribe(subCtx, collection, "role")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	snap, ok := <-ch
	if !ok {
		return nil, fmt.Errorf("failed to read %s: subscription closed", collection)
	}
	return snap.Documents, nil
}

func init() {
	rolesCmd.AddCommand(rolesListCmd)
	rolesCmd.AddCommand(rolesSetCmd)
	rolesCmd.AddCommand(rolesRanksCmd)
}
