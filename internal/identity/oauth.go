package identity

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"portalauth/internal/request"
	"portalauth/pkg/arcgis"
	"portalauth/pkg/logging"
)

// OAuth2Options describes an OAuth 2.0 application registered with a portal.
type OAuth2Options struct {
	ClientID    string
	RedirectURI string
	// Portal defaults to ArcGIS Online.
	Portal string
	// Expiration is the requested refresh token lifetime in minutes.
	Expiration int
	// State is generated when empty.
	State string
}

func (o OAuth2Options) portal() string {
	if o.Portal == "" {
		return arcgis.DefaultPortal
	}
	return arcgis.CleanURL(o.Portal)
}

// AuthorizeURL returns the URL to send a user to for the server-side
// authorization code flow, and the state value embedded in it.
func AuthorizeURL(opts OAuth2Options) (string, string, error) {
	if opts.ClientID == "" || opts.RedirectURI == "" {
		return "", "", fmt.Errorf("client id and redirect uri are required")
	}

	state := opts.State
	if state == "" {
		state = uuid.NewString()
	}
	expiration := opts.Expiration
	if expiration <= 0 {
		expiration = arcgis.DefaultTokenDuration
	}

	query := url.Values{
		"client_id":     {opts.ClientID},
		"response_type": {"code"},
		"expiration":    {strconv.Itoa(expiration)},
		"redirect_uri":  {opts.RedirectURI},
		"state":         {state},
	}
	return opts.portal() + "/oauth2/authorize?" + query.Encode(), state, nil
}

// ExchangeAuthorizationCode completes the authorization code flow and
// returns a session holding the issued token and refresh token.
func ExchangeAuthorizationCode(ctx context.Context, opts OAuth2Options, code string, sessionOpts ...Option) (*Session, error) {
	s := New(Record{
		ClientID:    opts.ClientID,
		Portal:      opts.portal(),
		RedirectURI: opts.RedirectURI,
	}, sessionOpts...)

	tokenURL := opts.portal() + "/oauth2/token"
	reqOpts := request.Options{Params: map[string]any{
		"grant_type":   "authorization_code",
		"client_id":    opts.ClientID,
		"redirect_uri": opts.RedirectURI,
		"code":         code,
	}}

	var resp arcgis.OAuthTokenResponse
	if err := s.requester.Do(ctx, tokenURL, reqOpts, &resp); err != nil {
		return nil, wrapRequestError(KindRefreshTokenExchangeFailed, err, tokenURL, reqOpts)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.record.Token = resp.AccessToken
	s.record.TokenExpires = expiresIn(now, resp.ExpiresIn)
	s.record.RefreshToken = resp.RefreshToken
	s.record.RefreshTokenExpires = expiresIn(now, resp.RefreshTokenExpiresIn)
	s.record.Username = resp.Username
	s.record.SSL = resp.SSL
	s.mu.Unlock()

	logging.Audit(logging.AuditEvent{Action: "authorization_code_exchange", Outcome: "success", Portal: opts.portal()})
	return s, nil
}

// SignIn creates a session from a username and password (or any other
// refreshable record) and verifies it by loading the user.
func SignIn(ctx context.Context, rec Record, opts ...Option) (*Session, error) {
	s := New(rec, opts...)
	if _, err := s.GetUser(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// FromToken creates a session around a token obtained elsewhere and verifies
// it by loading the user.
func FromToken(ctx context.Context, rec Record, opts ...Option) (*Session, error) {
	return SignIn(ctx, rec, opts...)
}

// ValidateAppAccess checks whether the signed-in user may use the
// application registered as clientID.
func (s *Session) ValidateAppAccess(ctx context.Context, clientID string) (*arcgis.ValidateAppAccessResponse, error) {
	portal := s.Portal()
	token, err := s.GetToken(ctx, portal)
	if err != nil {
		return nil, err
	}

	var resp arcgis.ValidateAppAccessResponse
	err = s.requester.Do(ctx, portal+"/oauth2/validateAppAccess", request.Options{
		Params: map[string]any{"client_id": clientID, "token": token},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Destroy revokes the refresh token (or the token when there is none) at the
// portal and drops every cached token, lookup and profile. The session holds
// no credentials afterwards.
func (s *Session) Destroy(ctx context.Context) error {
	rec := s.Record()

	if rec.Portal != "" {
		revoke := rec.RefreshToken
		if revoke == "" {
			revoke = rec.Token
		}
		if revoke != "" {
			if err := s.revoke(ctx, rec, revoke); err != nil {
				logging.Audit(logging.AuditEvent{Action: "token_revoke", Outcome: "failure", Portal: rec.Portal, Error: err.Error()})
				return err
			}
		}
	}

	s.mu.Lock()
	s.record.Token = ""
	s.record.TokenExpires = s.clock.Now()
	s.record.RefreshToken = ""
	s.record.RefreshTokenExpires = s.clock.Now()
	s.record.Password = ""
	s.mu.Unlock()

	s.serverTokens.clear()
	s.serverInfos.clear()
	s.trust.reset()
	s.challenges.clear()
	s.ClearCachedUserInfo()
	s.profileMu.Lock()
	s.portalSelf = nil
	s.profileMu.Unlock()

	logging.Audit(logging.AuditEvent{Action: "token_revoke", Outcome: "success", Portal: rec.Portal, Target: rec.Server})
	return nil
}

func (s *Session) revoke(ctx context.Context, rec Record, token string) error {
	revokeURL := rec.Portal + "/oauth2/revokeToken/"
	opts := request.Options{Params: map[string]any{
		"auth_token": token,
		"client_id":  rec.ClientID,
	}}

	var resp arcgis.RevokeTokenResponse
	if err := s.requester.Do(ctx, revokeURL, opts, &resp); err != nil {
		return wrapRequestError(KindUnknown, err, revokeURL, opts)
	}
	if !resp.Success {
		return &Error{Kind: KindUnknown, Message: "Unable to revoke token.", URL: revokeURL, Options: redactOptions(opts)}
	}
	return nil
}
