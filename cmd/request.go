package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"portalauth/internal/request"
)

type requestOptions struct {
	method string
	params []string
}

func newRequestCmd(root *rootOptions) *cobra.Command {
	opts := &requestOptions{}

	cmd := &cobra.Command{
		Use:   "request <url>",
		Short: "Send an authenticated request and print the JSON response",
		Long: `Send a request to a portal or server URL with the token the session picks
for it. A rejected token is refreshed and the request resent once.

Examples:
  portalauth request https://gis.example.com/server/rest/services
  portalauth request -X GET -p q=owner:casey https://org.example.com/portal/sharing/rest/search`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqOpts, err := opts.toRequestOptions()
			if err != nil {
				return err
			}

			session, err := root.loadSession(cmd.Context())
			if err != nil {
				return err
			}
			before := session.Record()

			var body json.RawMessage
			err = session.Do(cmd.Context(), args[0], reqOpts, &body)
			if saveErr := root.saveSession(cmd.Context(), session, before); saveErr != nil {
				return saveErr
			}
			if err != nil {
				return err
			}

			var out bytes.Buffer
			if err := json.Indent(&out, body, "", "  "); err != nil {
				return fmt.Errorf("response is not JSON: %w", err)
			}
			out.WriteByte('\n')
			_, err = out.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.method, "method", "X", http.MethodPost, "HTTP method, GET or POST")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Request parameter as key=value (repeatable)")
	return cmd
}

func (o *requestOptions) toRequestOptions() (request.Options, error) {
	method := strings.ToUpper(o.method)
	if method != http.MethodGet && method != http.MethodPost {
		return request.Options{}, fmt.Errorf("unsupported method %q, use GET or POST", o.method)
	}

	params := make(map[string]any, len(o.params))
	for _, p := range o.params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return request.Options{}, fmt.Errorf("invalid parameter %q, expected key=value", p)
		}
		params[key] = value
	}
	return request.Options{Method: method, Params: params}, nil
}
