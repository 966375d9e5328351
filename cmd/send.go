package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/antigravity-pool/internal/application"
)

func newSendCmd(app *app) *cobra.Command {
	var (
		model  string
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "send [payload-file]",
		Short: "Send one chat turn through the pool",
		Long:  "Reads a host-format chat payload from the given file (or stdin) and dispatches it through the account pool, printing the translated response.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.loadPool(ctx); err != nil {
				return err
			}

			payload, err := readPayload(args)
			if err != nil {
				return err
			}

			action := "generateContent"
			if stream {
				action = "streamGenerateContent"
			}

			result, err := app.dispatcher.Send(ctx, application.ChatCall{
				Model:   model,
				Action:  action,
				Payload: payload,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Stream != nil {
				defer func() { _ = result.Stream.Close() }()
				_, err = io.Copy(out, result.Stream)
				return err
			}

			if result.Status >= 400 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), string(result.Body))
				return fmt.Errorf("upstream returned status %d", result.Status)
			}
			_, err = fmt.Fprintln(out, string(result.Body))
			return err
		},
	}

	cmd.Flags().StringVar(&model, "model", "gemini-3-pro-preview", "Model to request")
	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the response as server-sent events")

	return cmd
}

func readPayload(args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	return data, nil
}
