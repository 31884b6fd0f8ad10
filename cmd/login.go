package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"portalauth/internal/identity"
	"portalauth/pkg/logging"
)

type loginOptions struct {
	username      string
	clientID      string
	refreshToken  string
	passwordStdin bool
}

func newLoginCmd(root *rootOptions) *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long: `Sign in to the configured portal (or standalone server) and store the
session for later commands.

With --username the password is prompted for, or read from stdin with
--password-stdin. With --refresh-token and --client-id an OAuth refresh
token obtained elsewhere is used instead.

Examples:
  portalauth login --username casey
  echo "$PASSWORD" | portalauth login --username casey --password-stdin
  portalauth login --client-id abc123 --refresh-token "$REFRESH_TOKEN"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "Portal or server username")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "", "OAuth client id (defaults to the configured clientId)")
	cmd.Flags().StringVar(&opts.refreshToken, "refresh-token", "", "OAuth refresh token to sign in with")
	cmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func runLogin(cmd *cobra.Command, root *rootOptions, opts *loginOptions) error {
	cfg := root.cfg
	rec := identity.Record{
		Portal:        cfg.Portal,
		Server:        cfg.Server,
		ClientID:      cfg.ClientID,
		TokenDuration: cfg.TokenDuration,
		Referer:       cfg.Referer,
		RedirectURI:   cfg.RedirectURI,
	}
	if opts.clientID != "" {
		rec.ClientID = opts.clientID
	}

	switch {
	case opts.refreshToken != "":
		if rec.ClientID == "" {
			return errors.New("--client-id is required with --refresh-token")
		}
		rec.RefreshToken = opts.refreshToken
	case opts.passwordStdin:
		if opts.username == "" {
			return errors.New("--username is required with --password-stdin")
		}
		password, err := readSecretLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
		rec.Username, rec.Password = opts.username, password
	default:
		username, password, err := promptCredentials(opts.username)
		if err != nil {
			return err
		}
		rec.Username, rec.Password = username, password
	}

	target := root.sessionKey()
	stop := root.startSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Signing in to %s...", target))
	session, err := signIn(cmd, root, rec)
	stop()
	if err != nil {
		logging.Audit(logging.AuditEvent{Action: "login", Outcome: "failure", Portal: target, Error: err.Error()})
		return fmt.Errorf("sign in to %s failed: %w", target, err)
	}

	if err := root.store.Save(cmd.Context(), session); err != nil {
		return err
	}
	logging.Audit(logging.AuditEvent{Action: "login", Outcome: "success", Portal: target})

	username, err := session.GetUsername(cmd.Context())
	if err != nil || username == "" {
		username = rec.Username
	}
	if !root.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in to %s as %s\n", target, username)
	}
	return nil
}

// signIn verifies the record against the portal, or for a standalone server
// obtains the first token.
func signIn(cmd *cobra.Command, root *rootOptions, rec identity.Record) (*identity.Session, error) {
	if rec.Portal != "" {
		return identity.SignIn(cmd.Context(), rec, root.sessionOptions()...)
	}

	session := identity.New(rec, root.sessionOptions()...)
	if _, err := session.RefreshCredentials(cmd.Context()); err != nil {
		return nil, err
	}
	return session, nil
}
