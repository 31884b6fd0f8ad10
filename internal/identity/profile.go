package identity

import (
	"context"

	"portalauth/internal/request"
	"portalauth/pkg/arcgis"
)

// GetUser returns the signed-in user from community/self. The result is
// cached until the next refresh; concurrent calls share one request.
func (s *Session) GetUser(ctx context.Context) (*arcgis.User, error) {
	s.profileMu.RLock()
	user := s.user
	s.profileMu.RUnlock()
	if user != nil {
		return user, nil
	}

	return s.users.do(ctx, "user", func(ctx context.Context) (*arcgis.User, error) {
		s.profileMu.RLock()
		cached := s.user
		s.profileMu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		var user arcgis.User
		if err := s.portalGet(ctx, "/community/self", &user); err != nil {
			return nil, err
		}
		s.profileMu.Lock()
		s.user = &user
		s.profileMu.Unlock()
		return &user, nil
	})
}

// GetUsername returns the record's username, falling back to GetUser.
func (s *Session) GetUsername(ctx context.Context) (string, error) {
	if username := s.Record().Username; username != "" {
		return username, nil
	}
	user, err := s.GetUser(ctx)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// GetPortal returns portals/self. The result is cached for the session's
// lifetime; concurrent calls share one request.
func (s *Session) GetPortal(ctx context.Context) (*arcgis.PortalSelf, error) {
	s.profileMu.RLock()
	self := s.portalSelf
	s.profileMu.RUnlock()
	if self != nil {
		return self, nil
	}

	return s.portals.do(ctx, "portal-self", func(ctx context.Context) (*arcgis.PortalSelf, error) {
		s.profileMu.RLock()
		cached := s.portalSelf
		s.profileMu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		var self arcgis.PortalSelf
		if err := s.portalGet(ctx, "/portals/self", &self); err != nil {
			return nil, err
		}
		s.profileMu.Lock()
		s.portalSelf = &self
		s.profileMu.Unlock()
		return &self, nil
	})
}

// ClearCachedUserInfo drops the cached user so the next GetUser refetches it.
func (s *Session) ClearCachedUserInfo() {
	s.profileMu.Lock()
	s.user = nil
	s.profileMu.Unlock()
}

// portalGet issues a GET against a portal path, authenticated whenever the
// session has or can obtain a token.
func (s *Session) portalGet(ctx context.Context, path string, out any) error {
	rec := s.Record()
	url := rec.Portal + path

	var token string
	if rec.TokenValid(s.clock.Now()) || rec.Refreshable() {
		var err error
		if token, err = s.freshToken(ctx); err != nil {
			return err
		}
	}
	return s.requester.Do(ctx, url, request.Options{
		Method:     "GET",
		Credential: request.RawToken(token),
	}, out)
}
