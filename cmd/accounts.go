package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	statusrender "github.com/bnema/antigravity-pool/internal/adapters/render/status"
)

func newAccountsCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and manage the account pool",
	}

	cmd.AddCommand(newAccountsListCmd(app), newAccountsRemoveCmd(app))

	return cmd
}

func newAccountsListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show pool accounts with cooldown state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.loadPool(cmd.Context()); err != nil {
				return err
			}

			view := statusrender.Render(app.pool.Snapshot(), app.pool.Cursor(), statusrender.RenderOptions{Now: app.now()})
			_, err := fmt.Fprintln(cmd.OutOrStdout(), view)
			return err
		},
	}
}

func newAccountsRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Evict an account from the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.loadPool(ctx); err != nil {
				return err
			}

			email := args[0]
			if !app.pool.RemoveByEmail(ctx, email) {
				return fmt.Errorf("no account with email %q in pool", email)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (pool size: %d)\n", email, app.pool.Len())
			return nil
		},
	}
}
