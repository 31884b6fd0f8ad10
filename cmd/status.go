package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"portalauth/internal/identity"
	"portalauth/internal/metrics"
	"portalauth/internal/sessionstore"
	"portalauth/pkg/logging"
	pkgstrings "portalauth/pkg/strings"
)

type statusOptions struct {
	output  string
	verbose bool
	all     bool
}

// sessionStatus is what status reports about one session. The JSON names
// are also the YAML keys.
type sessionStatus struct {
	Session             string                       `json:"session"`
	Portal              string                       `json:"portal,omitempty"`
	Server              string                       `json:"server,omitempty"`
	Username            string                       `json:"username,omitempty"`
	FullName            string                       `json:"fullName,omitempty"`
	Role                string                       `json:"role,omitempty"`
	TokenValid          bool                         `json:"tokenValid"`
	TokenExpires        *time.Time                   `json:"tokenExpires,omitempty"`
	Refreshable         bool                         `json:"refreshable"`
	RefreshTokenExpires *time.Time                   `json:"refreshTokenExpires,omitempty"`
	TrustedDomains      []string                     `json:"trustedDomains,omitempty"`
	ServerTokens        []identity.CachedServerToken `json:"serverTokens,omitempty"`
	Metrics             *identity.MetricsSummary     `json:"metrics,omitempty"`
	Error               string                       `json:"error,omitempty"`
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Long: `Show the stored session for the configured portal or server: who is
signed in, when the token expires and whether it can be refreshed.

--verbose contacts the portal to load the user and trusted domains and
includes the session counters. -o prometheus prints those counters in
the Prometheus text format. --all lists every stored session.

Examples:
  portalauth status
  portalauth status --verbose -o yaml
  portalauth status --all
  portalauth status -o prometheus`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "table", "json", "yaml":
			case "prometheus":
				if opts.all {
					return fmt.Errorf("--all cannot be combined with -o prometheus")
				}
			default:
				return fmt.Errorf("unsupported output format %q, use table, json, yaml or prometheus", opts.output)
			}

			if opts.all {
				entries, err := root.store.List(cmd.Context())
				if err != nil {
					return err
				}
				return writeEntries(cmd.OutOrStdout(), opts.output, entries, time.Now())
			}

			session, err := root.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output == "prometheus" {
				collectStatus(cmd, root, session, true)
				return metrics.WriteText(cmd.OutOrStdout(), session.Metrics())
			}
			status := collectStatus(cmd, root, session, opts.verbose)
			return writeStatus(cmd.OutOrStdout(), opts.output, status, time.Now())
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json, yaml or prometheus")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Load user details and trusted domains from the portal")
	cmd.Flags().BoolVar(&opts.all, "all", false, "List every stored session")
	return cmd
}

func collectStatus(cmd *cobra.Command, root *rootOptions, session *identity.Session, verbose bool) sessionStatus {
	rec := session.Record()
	now := time.Now()

	status := sessionStatus{
		Session:     root.sessionKey(),
		Portal:      rec.Portal,
		Server:      rec.Server,
		Username:    rec.Username,
		TokenValid:  rec.TokenValid(now),
		Refreshable: rec.Refreshable(),
	}
	if !rec.TokenExpires.IsZero() {
		status.TokenExpires = &rec.TokenExpires
	}
	if !rec.RefreshTokenExpires.IsZero() {
		status.RefreshTokenExpires = &rec.RefreshTokenExpires
	}
	if !verbose {
		return status
	}

	before := rec
	if rec.Portal != "" {
		if user, err := session.GetUser(cmd.Context()); err != nil {
			status.Error = err.Error()
		} else {
			status.Username = user.Username
			status.FullName = user.FullName
			status.Role = user.Role
		}
		session.GetDomainCredentials(cmd.Context(), rec.Portal)
		status.TrustedDomains = session.TrustedDomains()
	}
	if err := root.saveSession(cmd.Context(), session, before); err != nil {
		logging.Warn("CLI", "Saving the refreshed session failed: %v", err)
	}

	after := session.Record()
	status.TokenValid = after.TokenValid(time.Now())
	if !after.TokenExpires.IsZero() {
		status.TokenExpires = &after.TokenExpires
	}
	status.ServerTokens = session.ServerTokens()
	summary := session.Metrics().Summary()
	status.Metrics = &summary
	return status
}

func writeStatus(w io.Writer, format string, status sessionStatus, now time.Time) error {
	switch format {
	case "json":
		return writeJSON(w, status)
	case "yaml":
		return writeYAML(w, status)
	}

	t := newTable(w)
	t.AppendRow(table.Row{"Session", status.Session})
	if status.Username != "" {
		t.AppendRow(table.Row{"User", formatUser(status)})
	}
	t.AppendRow(table.Row{"Token", formatTokenState(status.TokenValid)})
	if status.TokenExpires != nil {
		t.AppendRow(table.Row{"Expires", formatExpiry(*status.TokenExpires, now)})
	} else {
		t.AppendRow(table.Row{"Expires", "never"})
	}
	t.AppendRow(table.Row{"Refresh", formatRefreshable(status.Refreshable)})
	if status.RefreshTokenExpires != nil {
		t.AppendRow(table.Row{"Refresh expires", formatExpiry(*status.RefreshTokenExpires, now)})
	}
	if len(status.TrustedDomains) > 0 {
		t.AppendRow(table.Row{"Trusted domains", pkgstrings.Truncate(fmt.Sprint(status.TrustedDomains), pkgstrings.CellMaxLen)})
	}
	for _, st := range status.ServerTokens {
		t.AppendRow(table.Row{"Server token", fmt.Sprintf("%s, expires %s", st.Server, formatExpiry(st.Expires, now))})
	}
	if status.Metrics != nil {
		t.AppendRow(table.Row{"Refreshes", fmt.Sprintf("%d (%d failed)", status.Metrics.TotalRefreshes, status.Metrics.TotalRefreshFailures)})
		t.AppendRow(table.Row{"Retries", status.Metrics.TotalRetries})
	}
	if status.Error != "" {
		t.AppendRow(table.Row{"Error", text.FgRed.Sprint(pkgstrings.Truncate(status.Error, pkgstrings.CellMaxLen))})
	}
	t.Render()
	return nil
}

func writeEntries(w io.Writer, format string, entries []sessionstore.Entry, now time.Time) error {
	switch format {
	case "json":
		return writeJSON(w, entries)
	case "yaml":
		return writeYAML(w, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, text.FgYellow.Sprint("No stored sessions"))
		return nil
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Session", "User", "Expires", "Refresh", "Saved"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Key,
			e.Username,
			formatExpiry(e.TokenExpires, now),
			formatRefreshable(e.Refreshable),
			e.SavedAt.Local().Format(time.RFC3339),
		})
	}
	t.Render()
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to render YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func formatUser(status sessionStatus) string {
	switch {
	case status.FullName != "" && status.Role != "":
		return fmt.Sprintf("%s (%s, %s)", status.Username, status.FullName, status.Role)
	case status.FullName != "":
		return fmt.Sprintf("%s (%s)", status.Username, status.FullName)
	default:
		return status.Username
	}
}

func formatTokenState(valid bool) string {
	if valid {
		return text.FgGreen.Sprint("Valid")
	}
	return text.FgYellow.Sprint("Expired")
}

func formatRefreshable(refreshable bool) string {
	if refreshable {
		return text.FgGreen.Sprint("Available")
	}
	return text.FgYellow.Sprint("Not available (sign in again on expiry)")
}
