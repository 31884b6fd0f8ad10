package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"portalauth/internal/request"
	"portalauth/pkg/arcgis"
	"portalauth/pkg/logging"
)

// PlanKind says how a request URL gets its token.
type PlanKind int

const (
	// PlanPortalToken: the URL belongs to the portal, or to ArcGIS Online in
	// the portal's environment, or to the session's own server. The record's
	// token is used.
	PlanPortalToken PlanKind = iota
	// PlanCachedServerToken: an unexpired server token is cached for the
	// URL's server.
	PlanCachedServerToken
	// PlanFetchServerToken: the URL's server is federated with the portal and
	// a server token must be generated from its token service.
	PlanFetchServerToken
	// PlanAnonymous: the server is public or untrusted; no token is sent.
	PlanAnonymous
)

func (k PlanKind) String() string {
	switch k {
	case PlanPortalToken:
		return "portal-token"
	case PlanCachedServerToken:
		return "cached-server-token"
	case PlanFetchServerToken:
		return "fetch-server-token"
	case PlanAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// TokenPlan is the classification of one request URL.
type TokenPlan struct {
	Kind PlanKind

	// Server is set for server plans and for anonymous plans.
	Server arcgis.ServerRoot

	// TokenServicesURL is set for PlanFetchServerToken.
	TokenServicesURL string
}

// Resolve classifies url without minting any token. It may fetch the
// portal's trusted domains and the server's rest/info.
func (s *Session) Resolve(ctx context.Context, url string) (TokenPlan, error) {
	rec := s.Record()

	if rec.serverMode() && arcgis.ServerRootURL(url) == arcgis.ServerRootURL(rec.Server) {
		return TokenPlan{Kind: PlanPortalToken}, nil
	}
	if rec.Portal != "" && (arcgis.CanUseOnlineToken(rec.Portal, url) || arcgis.IsPortalURL(rec.Portal, url)) {
		return TokenPlan{Kind: PlanPortalToken}, nil
	}

	root, err := arcgis.ParseServerRoot(url)
	if err != nil {
		return TokenPlan{}, err
	}
	if _, ok := s.serverTokens.get(root.CacheKey(), s.clock.Now()); ok {
		return TokenPlan{Kind: PlanCachedServerToken, Server: root}, nil
	}
	return s.classifyServer(ctx, url, root)
}

// classifyServer decides between a server token exchange and an anonymous
// request from the server's rest/info.
func (s *Session) classifyServer(ctx context.Context, url string, root arcgis.ServerRoot) (TokenPlan, error) {
	rec := s.Record()

	if err := s.fetchAuthorizedDomains(ctx); err != nil {
		return TokenPlan{}, err
	}

	info, err := s.serverInfo(ctx, root)
	if err != nil {
		return TokenPlan{}, err
	}

	if rec.Portal != "" && info.IsTokenBased() && arcgis.IsFederated(info.OwningSystemURL, rec.Portal) {
		logging.Debug("Federation", "Server %s is federated with %s", root.URL, rec.Portal)
		return TokenPlan{Kind: PlanFetchServerToken, Server: root, TokenServicesURL: info.AuthInfo.TokenServicesURL}, nil
	}

	if s.challenges.has(root.CacheKey()) {
		return TokenPlan{}, notFederatedError(url, rec.Portal, info)
	}

	logging.Debug("Federation", "Server %s is not federated with %q, sending requests anonymously", root.URL, rec.Portal)
	return TokenPlan{Kind: PlanAnonymous, Server: root}, nil
}

func notFederatedError(url, portal string, info *arcgis.ServerInfo) *Error {
	msg := fmt.Sprintf("%s is not federated with any portal and is not explicitly trusted.", url)
	if info != nil && info.OwningSystemURL != "" && portal != "" {
		msg = fmt.Sprintf("%s is not federated with %s.", url, portal)
	}
	return &Error{Kind: KindNotFederated, Message: msg, URL: url}
}

// GetToken returns the token to attach to a request for url. Anonymous
// targets yield an empty token and no error.
func (s *Session) GetToken(ctx context.Context, url string) (string, error) {
	token, _, err := s.tokenFor(ctx, url)
	return token, err
}

// tokenFor resolves url and produces the token its plan calls for.
func (s *Session) tokenFor(ctx context.Context, url string) (string, TokenPlan, error) {
	plan, err := s.Resolve(ctx, url)
	if err != nil {
		return "", plan, err
	}

	switch plan.Kind {
	case PlanPortalToken:
		token, err := s.freshToken(ctx)
		return token, plan, err
	case PlanCachedServerToken:
		if entry, ok := s.serverTokens.get(plan.Server.CacheKey(), s.clock.Now()); ok {
			s.metrics.recordCacheHit(plan.Server.CacheKey())
			return entry.token, plan, nil
		}
		token, err := s.serverToken(ctx, url, plan.Server, "")
		return token, plan, err
	case PlanFetchServerToken:
		token, err := s.serverToken(ctx, url, plan.Server, plan.TokenServicesURL)
		return token, plan, err
	default:
		return "", plan, nil
	}
}

// serverToken returns a token for a federated server, generating and caching
// one when needed. Concurrent callers for the same server share the exchange.
func (s *Session) serverToken(ctx context.Context, url string, root arcgis.ServerRoot, tokenServicesURL string) (string, error) {
	key := root.CacheKey()
	return s.tokens.do(ctx, "token:"+key, func(ctx context.Context) (string, error) {
		if entry, ok := s.serverTokens.get(key, s.clock.Now()); ok {
			return entry.token, nil
		}

		if tokenServicesURL == "" {
			plan, err := s.classifyServer(ctx, url, root)
			if err != nil {
				return "", err
			}
			if plan.Kind != PlanFetchServerToken {
				return "", nil
			}
			tokenServicesURL = plan.TokenServicesURL
		}

		portalToken, err := s.freshToken(ctx)
		if err != nil {
			return "", err
		}

		rec := s.Record()
		opts := request.Options{Params: map[string]any{
			"token":      portalToken,
			"serverUrl":  root.URL,
			"expiration": rec.TokenDuration,
		}}

		s.metrics.recordServerTokenFetch(key)
		var resp arcgis.GenerateTokenResponse
		if err := s.requester.Do(ctx, tokenServicesURL, opts, &resp); err != nil {
			wrapped := wrapRequestError(KindGenerateTokenForServerFailed, err, tokenServicesURL, opts)
			logging.Audit(logging.AuditEvent{Action: "server_token_exchange", Outcome: "failure", Portal: rec.Portal, Target: root.URL, Error: wrapped.Error()})
			return "", wrapped
		}

		expires := resp.ExpiresAt().Add(-arcgis.ServerTokenExpiryMargin)
		s.serverTokens.set(key, serverToken{token: resp.Token, expires: expires})

		logging.Debug("Federation", "Generated server token for %s (token=%s, expires=%s)",
			key, logging.RedactToken(resp.Token), formatExpiry(expires))
		logging.Audit(logging.AuditEvent{Action: "server_token_exchange", Outcome: "success", Portal: rec.Portal, Target: root.URL})
		return resp.Token, nil
	})
}

// serverInfo returns the rest/info of a server, cached for the session's
// lifetime. Concurrent lookups for one server share a single request.
func (s *Session) serverInfo(ctx context.Context, root arcgis.ServerRoot) (*arcgis.ServerInfo, error) {
	infoURL := root.InfoURL()
	if info, ok := s.serverInfos.get(infoURL); ok {
		return info, nil
	}

	return s.infos.do(ctx, "info:"+infoURL, func(ctx context.Context) (*arcgis.ServerInfo, error) {
		if info, ok := s.serverInfos.get(infoURL); ok {
			return info, nil
		}

		opts := request.Options{
			Method:          "POST",
			CredentialsMode: s.DomainCredentials(infoURL),
		}
		s.metrics.recordServerInfoFetch(root.URL)

		var info arcgis.ServerInfo
		if err := s.requester.Do(ctx, infoURL, opts, &info); err != nil {
			logging.Error("Federation", err, "Failed to fetch %s", infoURL)
			return nil, err
		}
		s.serverInfos.set(infoURL, &info)
		return &info, nil
	})
}

// serverToken is one entry of the federated server token cache.
type serverToken struct {
	token   string
	expires time.Time
}

// serverTokenCache maps server cache keys to server tokens. Keys come from
// arcgis.ServerRoot.CacheKey, so host casing is already normalized.
type serverTokenCache struct {
	mu      sync.RWMutex
	entries map[string]serverToken
}

func newServerTokenCache() *serverTokenCache {
	return &serverTokenCache{entries: make(map[string]serverToken)}
}

// get returns the entry for key if it is still valid at now.
func (c *serverTokenCache) get(key string, now time.Time) (serverToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || entry.token == "" || !entry.expires.After(now) {
		return serverToken{}, false
	}
	return entry, true
}

func (c *serverTokenCache) set(key string, entry serverToken) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

func (c *serverTokenCache) delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *serverTokenCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]serverToken)
	c.mu.Unlock()
}

// snapshot returns every entry still valid at now, sorted by key.
func (c *serverTokenCache) snapshot(now time.Time) []CachedServerToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CachedServerToken, 0, len(c.entries))
	for key, entry := range c.entries {
		if entry.token == "" || !entry.expires.After(now) {
			continue
		}
		out = append(out, CachedServerToken{Server: key, Expires: entry.expires})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Server < out[j].Server })
	return out
}

// CachedServerToken describes one cached federated server token without
// exposing the token itself.
type CachedServerToken struct {
	Server  string    `json:"server"`
	Expires time.Time `json:"expires"`
}

// ServerTokens lists the unexpired server tokens the session holds.
func (s *Session) ServerTokens() []CachedServerToken {
	return s.serverTokens.snapshot(s.clock.Now())
}

type serverInfoCache struct {
	mu      sync.RWMutex
	entries map[string]*arcgis.ServerInfo
}

func newServerInfoCache() *serverInfoCache {
	return &serverInfoCache{entries: make(map[string]*arcgis.ServerInfo)}
}

func (c *serverInfoCache) get(infoURL string) (*arcgis.ServerInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[infoURL]
	return info, ok
}

func (c *serverInfoCache) set(infoURL string, info *arcgis.ServerInfo) {
	c.mu.Lock()
	c.entries[infoURL] = info
	c.mu.Unlock()
}

func (c *serverInfoCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]*arcgis.ServerInfo)
	c.mu.Unlock()
}

// challengeSet remembers servers that answered an anonymous request with an
// auth challenge. Such servers are reported as NOT_FEDERATED instead of being
// tried anonymously again.
type challengeSet struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func newChallengeSet() *challengeSet {
	return &challengeSet{keys: make(map[string]struct{})}
}

func (c *challengeSet) add(key string) {
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
}

func (c *challengeSet) has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[key]
	return ok
}

func (c *challengeSet) clear() {
	c.mu.Lock()
	c.keys = make(map[string]struct{})
	c.mu.Unlock()
}
