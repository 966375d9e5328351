package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	oauthadapter "github.com/bnema/antigravity-pool/internal/adapters/oauth"
	"github.com/bnema/antigravity-pool/internal/application"
)

const loginTimeout = 5 * time.Minute

func newLoginCmd(app *app) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate a Google account and add it to the pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := app.loadPool(ctx); err != nil {
				return err
			}

			pkce, err := oauthadapter.NewPKCEPair()
			if err != nil {
				return fmt.Errorf("generate pkce: %w", err)
			}
			state, err := oauthadapter.NewState()
			if err != nil {
				return fmt.Errorf("generate oauth state: %w", err)
			}

			server, err := oauthadapter.StartCallbackServer(callbackListenAddr, state)
			if err != nil {
				return fmt.Errorf("start callback server: %w", err)
			}
			defer func() { _ = server.Close() }()

			authURL, err := app.tokens.AuthorizationURL(state, pkce.Challenge, server.RedirectURI())
			if err != nil {
				return fmt.Errorf("build authorization url: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authenticate:\n%s\n", authURL)

			code, err := server.WaitForCode(loginTimeout)
			if err != nil {
				return fmt.Errorf("wait for oauth callback: %w", err)
			}

			account, err := app.tokens.Exchange(ctx, code, pkce.Verifier, server.RedirectURI())
			if err != nil {
				return fmt.Errorf("exchange authorization code: %w", err)
			}

			mode := application.MergeModePreserve
			if fresh {
				mode = application.MergeModeFresh
			}
			stored := app.pool.Merge(ctx, account, mode)

			if err := app.secrets.SetActiveRefreshToken(ctx, stored.RefreshToken); err != nil {
				return fmt.Errorf("store active credential: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Authenticated %s (pool size: %d)\n", stored.Email, app.pool.Len())
			return nil
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "Replace the existing pool instead of merging into it")

	return cmd
}
