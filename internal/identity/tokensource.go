package identity

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoTokenRequired is returned by a TokenSource whose URL is served
// anonymously.
var ErrNoTokenRequired = errors.New("no token required for url")

// TokenSource adapts the session to oauth2.TokenSource for a fixed URL, so
// HTTP clients built on oauth2.Transport use the token GetToken would pick.
func (s *Session) TokenSource(ctx context.Context, url string) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, session: s, url: url}
}

type sessionTokenSource struct {
	ctx     context.Context
	session *Session
	url     string
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	token, plan, err := ts.session.tokenFor(ts.ctx, ts.url)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNoTokenRequired
	}

	var expiry time.Time
	switch plan.Kind {
	case PlanPortalToken:
		expiry = ts.session.Record().TokenExpires
	case PlanCachedServerToken, PlanFetchServerToken:
		if entry, ok := ts.session.serverTokens.get(plan.Server.CacheKey(), ts.session.clock.Now()); ok {
			expiry = entry.expires
		}
	}

	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}
