package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"portalauth/internal/sessionstore"
	"portalauth/pkg/logging"
)

func newLogoutCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and delete the stored session",
		Long: `Revoke the stored session's token at the portal and delete it locally.
The local copy is deleted even when revocation fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := root.sessionKey()
			session, err := root.store.Load(cmd.Context(), key, root.sessionOptions()...)
			if errors.Is(err, sessionstore.ErrNotFound) {
				if !root.quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "Not signed in to %s\n", key)
				}
				return nil
			}
			if err != nil {
				return err
			}

			if err := session.Destroy(cmd.Context()); err != nil {
				logging.Warn("CLI", "Revoking the session for %s failed: %v", key, err)
			}
			if err := root.store.Delete(cmd.Context(), key); err != nil {
				return err
			}

			if !root.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Signed out of %s\n", key)
			}
			return nil
		},
	}
}
