package identity

import (
	"context"
	"errors"
	"time"

	"portalauth/internal/request"
	"portalauth/pkg/arcgis"
	"portalauth/pkg/logging"
)

// refreshTokenGrace is how close to expiry a refresh token may get before a
// refresh rotates it instead of merely using it.
const refreshTokenGrace = 24 * time.Hour

const refreshKey = "refresh"

// errNotRefreshable is the cause of refresh failures that never reached the
// network.
var errNotRefreshable = errors.New("no refresh token or password present")

// RefreshCredentials obtains a new portal token and stores it on the record.
// Concurrent calls share a single network exchange.
//
// Strategies, in order: refresh token (rotated when it expires within a
// day), then username and password, else TOKEN_REFRESH_FAILED.
func (s *Session) RefreshCredentials(ctx context.Context) (Record, error) {
	return s.refreshes.do(ctx, refreshKey, s.refresh)
}

func (s *Session) refresh(ctx context.Context) (Record, error) {
	rec := s.Record()
	now := s.clock.Now()

	var (
		update tokenUpdate
		err    error
		action string
	)
	switch {
	case rec.refreshTokenValid(now):
		if !rec.RefreshTokenExpires.IsZero() && rec.RefreshTokenExpires.Sub(now) < refreshTokenGrace {
			action = "refresh_token_exchange"
			update, err = s.exchangeRefreshToken(ctx, rec)
		} else {
			action = "refresh_token"
			update, err = s.refreshWithRefreshToken(ctx, rec)
		}
	case rec.Username != "" && rec.Password != "":
		action = "password"
		update, err = s.refreshWithPassword(ctx, rec)
	default:
		err = &Error{
			Kind:    KindTokenRefreshFailed,
			Message: "Unable to refresh token. No refresh token or password present.",
			Err:     errNotRefreshable,
		}
	}

	if err != nil {
		s.metrics.recordRefresh(false)
		logging.Error("Refresher", err, "Token refresh failed for portal=%s server=%s", rec.Portal, rec.Server)
		logging.Audit(logging.AuditEvent{Action: "token_refresh", Outcome: "failure", Portal: rec.Portal, Target: rec.Server, Error: err.Error()})
		return Record{}, err
	}

	s.mu.Lock()
	s.record.Token = update.token
	s.record.TokenExpires = update.expires
	if update.refreshToken != "" {
		s.record.RefreshToken = update.refreshToken
		s.record.RefreshTokenExpires = update.refreshTokenExpires
	}
	if s.record.Username == "" && update.username != "" {
		s.record.Username = update.username
	}
	if update.ssl {
		s.record.SSL = true
	}
	updated := s.record
	s.mu.Unlock()

	s.ClearCachedUserInfo()
	s.metrics.recordRefresh(true)
	logging.Debug("Refresher", "Refreshed token via %s for portal=%s (token=%s, expires=%s)",
		action, rec.Portal, logging.RedactToken(update.token), formatExpiry(update.expires))
	logging.Audit(logging.AuditEvent{Action: "token_refresh", Outcome: "success", Portal: rec.Portal, Target: rec.Server})
	return updated, nil
}

// freshToken returns the portal token, refreshing it first when it is
// missing or expired. The record is re-read on every call so a refresh that
// finished meanwhile is observed.
func (s *Session) freshToken(ctx context.Context) (string, error) {
	rec := s.Record()
	if rec.TokenValid(s.clock.Now()) {
		return rec.Token, nil
	}
	updated, err := s.refreshes.do(ctx, refreshKey, func(ctx context.Context) (Record, error) {
		if cur := s.Record(); cur.TokenValid(s.clock.Now()) {
			return cur, nil
		}
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return updated.Token, nil
}

// tokenUpdate carries the result of one refresh strategy.
type tokenUpdate struct {
	token               string
	expires             time.Time
	refreshToken        string
	refreshTokenExpires time.Time
	username            string
	ssl                 bool
}

func (s *Session) refreshWithRefreshToken(ctx context.Context, rec Record) (tokenUpdate, error) {
	url := rec.Portal + "/oauth2/token"
	opts := request.Options{Params: map[string]any{
		"client_id":     rec.ClientID,
		"refresh_token": rec.RefreshToken,
		"grant_type":    "refresh_token",
	}}

	var resp arcgis.OAuthTokenResponse
	if err := s.requester.Do(ctx, url, opts, &resp); err != nil {
		return tokenUpdate{}, wrapRequestError(KindTokenRefreshFailed, err, url, opts)
	}

	now := s.clock.Now()
	return tokenUpdate{
		token:    resp.AccessToken,
		expires:  expiresIn(now, resp.ExpiresIn),
		username: resp.Username,
		ssl:      resp.SSL,
	}, nil
}

func (s *Session) exchangeRefreshToken(ctx context.Context, rec Record) (tokenUpdate, error) {
	url := rec.Portal + "/oauth2/token"
	params := map[string]any{
		"client_id":     rec.ClientID,
		"refresh_token": rec.RefreshToken,
		"grant_type":    "exchange_refresh_token",
	}
	if rec.RedirectURI != "" {
		params["redirect_uri"] = rec.RedirectURI
	}
	opts := request.Options{Params: params}

	var resp arcgis.OAuthTokenResponse
	if err := s.requester.Do(ctx, url, opts, &resp); err != nil {
		return tokenUpdate{}, wrapRequestError(KindRefreshTokenExchangeFailed, err, url, opts)
	}

	now := s.clock.Now()
	return tokenUpdate{
		token:               resp.AccessToken,
		expires:             expiresIn(now, resp.ExpiresIn),
		refreshToken:        resp.RefreshToken,
		refreshTokenExpires: expiresIn(now, resp.RefreshTokenExpiresIn),
		username:            resp.Username,
		ssl:                 resp.SSL,
	}, nil
}

// refreshWithPassword calls generateToken with the stored credentials. A
// server-scoped record asks the server's own token service, found through
// its rest/info.
func (s *Session) refreshWithPassword(ctx context.Context, rec Record) (tokenUpdate, error) {
	opts := request.Options{Params: map[string]any{
		"username":   rec.Username,
		"password":   rec.Password,
		"expiration": rec.TokenDuration,
		"client":     "referer",
		"referer":    rec.referer(),
	}}

	url := rec.Portal + "/generateToken"
	if rec.serverMode() {
		root, err := arcgis.ParseServerRoot(rec.Server)
		if err != nil {
			return tokenUpdate{}, &Error{Kind: KindTokenRefreshFailed, Message: err.Error(), URL: rec.Server, Err: err}
		}
		info, err := s.serverInfo(ctx, root)
		if err != nil {
			return tokenUpdate{}, wrapRequestError(KindTokenRefreshFailed, err, root.InfoURL(), request.Options{})
		}
		if info.AuthInfo == nil || info.AuthInfo.TokenServicesURL == "" {
			return tokenUpdate{}, &Error{
				Kind:    KindTokenRefreshFailed,
				Message: rec.Server + " does not advertise a token service.",
				URL:     root.InfoURL(),
			}
		}
		url = info.AuthInfo.TokenServicesURL
	}

	var resp arcgis.GenerateTokenResponse
	if err := s.requester.Do(ctx, url, opts, &resp); err != nil {
		return tokenUpdate{}, wrapRequestError(KindTokenRefreshFailed, err, url, opts)
	}

	var expires time.Time
	if resp.Expires > 0 {
		expires = resp.ExpiresAt()
	}
	return tokenUpdate{token: resp.Token, expires: expires, ssl: resp.SSL}, nil
}

// expiresIn converts a lifetime in seconds into an absolute time. Zero
// seconds means no expiry.
func expiresIn(now time.Time, seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
