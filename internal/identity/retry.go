package identity

import (
	"context"
	"errors"

	"portalauth/internal/request"
	"portalauth/pkg/logging"
)

// maxAuthRetries bounds how often one logical request is resent after the
// destination rejected its token.
const maxAuthRetries = 1

// Do sends a request for url with the token and credentials mode the session
// picks for it, decoding the response into out. Any Credential in opts is
// ignored. The first request loads the portal's trusted domains.
//
// When the destination rejects the token (498, 499 or GWM_0003) and the
// record is refreshable, the session refreshes and resends once. A second
// rejection is returned as is. A public server that turns out to demand a
// token yields NOT_FEDERATED.
func (s *Session) Do(ctx context.Context, url string, opts request.Options, out any) error {
	opts.Credential = request.Credential{}

	for attempt := 0; ; attempt++ {
		token, plan, err := s.tokenFor(ctx, url)
		if err != nil {
			return err
		}

		sendOpts := opts
		if token != "" {
			sendOpts = sendOpts.WithParam("token", token)
		}
		if sendOpts.CredentialsMode == "" {
			sendOpts.CredentialsMode = s.GetDomainCredentials(ctx, url)
		}

		err = s.requester.Do(ctx, url, sendOpts, out)
		if err == nil || !request.IsAuthError(err) {
			return err
		}

		if plan.Kind == PlanAnonymous {
			return s.escalateChallenge(ctx, url, opts, plan, err)
		}

		if attempt >= maxAuthRetries || !s.Refreshable() {
			logging.Debug("Identity", "Giving up on %s after %d attempt(s): %v", url, attempt+1, err)
			return err
		}

		s.metrics.recordRetry()
		logging.Debug("Identity", "Token rejected by %s (%s), refreshing and retrying", url, plan.Kind)
		if plan.Kind == PlanCachedServerToken || plan.Kind == PlanFetchServerToken {
			s.serverTokens.delete(plan.Server.CacheKey())
		}
		if _, err := s.RefreshCredentials(ctx); err != nil {
			return err
		}
	}
}

// escalateChallenge records that a server classified as public demanded a
// token and reports NOT_FEDERATED with the original request context.
func (s *Session) escalateChallenge(ctx context.Context, url string, opts request.Options, plan TokenPlan, authErr error) error {
	s.challenges.add(plan.Server.CacheKey())

	_, err := s.Resolve(ctx, url)
	var idErr *Error
	if errors.As(err, &idErr) && idErr.Kind == KindNotFederated {
		idErr.Options = redactOptions(opts)
		idErr.Err = authErr
		logging.Warn("Federation", "%s demanded a token but is not federated with %q", url, s.Portal())
		return idErr
	}
	if err != nil {
		return err
	}
	return authErr
}
