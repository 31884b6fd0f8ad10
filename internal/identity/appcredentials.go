package identity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"portalauth/internal/request"
	"portalauth/pkg/arcgis"
	"portalauth/pkg/logging"
)

// DefaultAppTokenDuration is the lifetime in minutes requested for
// application tokens (five days).
const DefaultAppTokenDuration = 7200

// AppCredentialsConfig configures an ApplicationCredentials.
type AppCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	// Portal defaults to ArcGIS Online.
	Portal string
	// Token and Expires seed a token from a previous run.
	Token   string
	Expires time.Time
	// Duration of requested tokens in minutes.
	Duration int
}

// ApplicationCredentials holds an app-only token obtained with the OAuth
// client credentials grant. It has no user and no federation: the same
// token is handed out for every URL.
type ApplicationCredentials struct {
	clientID     string
	clientSecret string
	portal       string
	duration     int

	requester request.Requester
	clock     Clock

	mu      sync.RWMutex
	token   string
	expires time.Time

	refreshes coalescer[string]
}

// NewApplicationCredentials creates app credentials. No network call is made
// until a token is needed.
func NewApplicationCredentials(cfg AppCredentialsConfig, opts ...Option) *ApplicationCredentials {
	base := applyOptions(opts)

	portal := arcgis.CleanURL(cfg.Portal)
	if portal == "" {
		portal = arcgis.DefaultPortal
	}
	duration := cfg.Duration
	if duration <= 0 {
		duration = DefaultAppTokenDuration
	}

	return &ApplicationCredentials{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		portal:       portal,
		duration:     duration,
		requester:    base.requester,
		clock:        base.clock,
		token:        cfg.Token,
		expires:      cfg.Expires,
	}
}

// Portal returns the portal the credentials are issued by.
func (a *ApplicationCredentials) Portal() string {
	return a.portal
}

// GetToken returns the application token, fetching a new one when none is
// held or the held one has expired. The URL is not consulted.
func (a *ApplicationCredentials) GetToken(ctx context.Context, _ string) (string, error) {
	a.mu.RLock()
	token, expires := a.token, a.expires
	a.mu.RUnlock()

	if token != "" && !expires.IsZero() && expires.After(a.clock.Now()) {
		return token, nil
	}
	return a.refreshes.do(ctx, refreshKey, a.refresh)
}

// RefreshToken fetches a new application token unconditionally.
func (a *ApplicationCredentials) RefreshToken(ctx context.Context) (string, error) {
	return a.refreshes.do(ctx, refreshKey, a.refresh)
}

// DomainCredentials is always same-origin; app credentials have no portal
// trust list.
func (a *ApplicationCredentials) DomainCredentials(string) request.CredentialsMode {
	return request.CredentialsSameOrigin
}

// GetDomainCredentials is DomainCredentials; there is nothing to fetch.
func (a *ApplicationCredentials) GetDomainCredentials(_ context.Context, url string) request.CredentialsMode {
	return a.DomainCredentials(url)
}

func (a *ApplicationCredentials) refresh(ctx context.Context) (string, error) {
	url := a.portal + "/oauth2/token/"
	opts := request.Options{Params: map[string]any{
		"client_id":     a.clientID,
		"client_secret": a.clientSecret,
		"grant_type":    "client_credentials",
		"expiration":    a.duration,
	}}

	var resp arcgis.OAuthTokenResponse
	if err := a.requester.Do(ctx, url, opts, &resp); err != nil {
		wrapped := wrapRequestError(KindTokenRefreshFailed, err, url, opts)
		logging.Audit(logging.AuditEvent{Action: "app_token", Outcome: "failure", Portal: a.portal, Error: wrapped.Error()})
		return "", wrapped
	}

	expires := expiresIn(a.clock.Now(), resp.ExpiresIn)
	a.mu.Lock()
	a.token = resp.AccessToken
	a.expires = expires
	a.mu.Unlock()

	logging.Debug("Identity", "Fetched application token for client %s (token=%s, expires=%s)",
		a.clientID, logging.RedactToken(resp.AccessToken), formatExpiry(expires))
	logging.Audit(logging.AuditEvent{Action: "app_token", Outcome: "success", Portal: a.portal})
	return resp.AccessToken, nil
}

// TokenSource adapts the credentials to oauth2.TokenSource.
func (a *ApplicationCredentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &appTokenSource{ctx: ctx, creds: a}
}

type appTokenSource struct {
	ctx   context.Context
	creds *ApplicationCredentials
}

func (ts *appTokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.creds.GetToken(ts.ctx, "")
	if err != nil {
		return nil, err
	}
	ts.creds.mu.RLock()
	expiry := ts.creds.expires
	ts.creds.mu.RUnlock()
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer", Expiry: expiry}, nil
}
