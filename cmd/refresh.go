package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRefreshCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the stored session's token",
		Long: `Obtain a new token for the stored session using its refresh token or
password and save it. Fails with exit code 3 when the session can no longer
be refreshed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := root.loadSession(cmd.Context())
			if err != nil {
				return err
			}

			stop := root.startSpinner(cmd.ErrOrStderr(), "Refreshing token...")
			rec, err := session.RefreshCredentials(cmd.Context())
			stop()
			if err != nil {
				return err
			}
			if err := root.store.Save(cmd.Context(), session); err != nil {
				return err
			}

			if !root.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed, expires %s\n", formatExpiry(rec.TokenExpires, time.Now()))
			}
			return nil
		},
	}
}
