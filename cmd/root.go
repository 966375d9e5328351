package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "agp",
		Short:         "Antigravity account pool: rotate OAuth accounts across generative backends",
		Long:          "agp maintains a pool of Google OAuth accounts for the Antigravity generative API, rotating between them, honoring rate-limit cooldowns, and translating chat traffic in both directions.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		app.setVerbose(verbose)
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newLoginCmd(app),
		newAccountsCmd(app),
		newSendCmd(app),
	)

	return rootCmd
}
