package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"portalauth/internal/config"
	"portalauth/internal/identity"
	"portalauth/internal/request"
	"portalauth/internal/sessionstore"
	"portalauth/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeNotFederated indicates a server demanded a token the portal cannot provide.
	ExitCodeNotFederated = 2
	// ExitCodeRefreshFailed indicates the session could not be refreshed; sign in again.
	ExitCodeRefreshFailed = 3
	// ExitCodeAuthError indicates a token was rejected or no session is stored.
	ExitCodeAuthError = 4
)

// rootOptions holds the global flags and what PersistentPreRunE derives
// from them. Every command tree has its own.
type rootOptions struct {
	configPath string
	portal     string
	server     string
	logLevel   string
	quiet      bool

	cfg   config.Config
	store *sessionstore.Store
}

// version is injected by SetVersion.
var version = "dev"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "portalauth",
		Short: "Manage ArcGIS portal sessions and federated server tokens",
		Long: `portalauth signs in to an ArcGIS portal (or a standalone ArcGIS Server),
keeps the session on disk and hands out the right token for any portal or
federated server URL.

Examples:
  portalauth login --username casey
  portalauth token https://gis.example.com/server/rest/services
  portalauth request https://gis.example.com/server/rest/services/Parcels/MapServer
  portalauth status -o yaml`,
		// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.store == nil {
				return nil
			}
			return opts.store.Close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config-path", "", "Configuration directory (default ~/.config/portalauth)")
	cmd.PersistentFlags().StringVar(&opts.portal, "portal", "", "Portal REST URL, e.g. https://org.example.com/portal/sharing/rest")
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "Standalone ArcGIS Server URL; the session is scoped to it")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")

	cmd.AddCommand(
		newLoginCmd(opts),
		newTokenCmd(opts),
		newRequestCmd(opts),
		newStatusCmd(opts),
		newRefreshCmd(opts),
		newLogoutCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration, applies flag overrides and opens the
// session store.
func (o *rootOptions) load(cmd *cobra.Command) error {
	configPath := o.configPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			return errors.New(cfgErr.DetailedError())
		}
		return err
	}

	switch {
	case o.server != "":
		cfg.Server = o.server
		cfg.Portal = o.portal
	case o.portal != "":
		cfg.Portal = o.portal
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	store, err := sessionstore.Open(cmd.Context(), sessionstore.Config{
		Backend:   cfg.SessionBackend,
		Dir:       cfg.SessionDir,
		KeeperURL: cfg.SessionKeeperURL,
	})
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.store = store
	logging.Debug("CLI", "Using portal=%s server=%s sessions=%s", cfg.Portal, cfg.Server, cfg.SessionDir)
	return nil
}

// sessionKey is the store key of the configured portal or server.
func (o *rootOptions) sessionKey() string {
	return sessionstore.Key(identity.Record{Portal: o.cfg.Portal, Server: o.cfg.Server})
}

// sessionOptions wires the HTTP client the configuration describes.
func (o *rootOptions) sessionOptions() []identity.Option {
	clientOpts := []request.ClientOption{
		request.WithHTTPClient(&http.Client{Timeout: o.cfg.HTTPTimeout}),
		request.WithRateLimit(o.cfg.RequestsPerSecond, o.cfg.RequestBurst),
		request.WithUserAgent("portalauth/" + GetVersion()),
	}
	if o.cfg.Portal != "" {
		clientOpts = append(clientOpts, request.WithOrigin(o.cfg.Portal))
	}
	return []identity.Option{identity.WithRequester(request.NewClient(clientOpts...))}
}

// loadSession restores the stored session of the configured portal.
func (o *rootOptions) loadSession(ctx context.Context) (*identity.Session, error) {
	session, err := o.store.Load(ctx, o.sessionKey(), o.sessionOptions()...)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil, fmt.Errorf("not signed in to %s, run: portalauth login: %w", o.sessionKey(), err)
	}
	return session, err
}

// saveSession persists the session when its record changed.
func (o *rootOptions) saveSession(ctx context.Context, session *identity.Session, before identity.Record) error {
	if session.Record() == before {
		return nil
	}
	return o.store.Save(ctx, session)
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return version
}

// Execute runs the root command and exits with a code derived from the
// error, if any.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "portalauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps an error onto the documented exit codes.
func getExitCode(err error) int {
	var idErr *identity.Error
	if errors.As(err, &idErr) {
		switch idErr.Kind {
		case identity.KindNotFederated:
			return ExitCodeNotFederated
		case identity.KindTokenRefreshFailed, identity.KindRefreshTokenExchangeFailed:
			return ExitCodeRefreshFailed
		}
	}

	if request.IsAuthError(err) || errors.Is(err, sessionstore.ErrNotFound) {
		return ExitCodeAuthError
	}

	return ExitCodeError
}
