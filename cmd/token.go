package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <url>",
		Short: "Print the token to use for a URL",
		Long: `Print the token the stored session would attach to a request for the
given URL: the portal token, a token minted by a federated server, or
nothing for public servers.

The session is refreshed and saved when needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := root.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			before := session.Record()

			token, err := session.GetToken(cmd.Context(), args[0])
			if saveErr := root.saveSession(cmd.Context(), session, before); saveErr != nil {
				return saveErr
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
