package identity

import (
	"context"
	"strings"
	"sync"

	"portalauth/internal/request"
	"portalauth/pkg/arcgis"
	"portalauth/pkg/logging"
)

// domainTrust holds the portal's authorized cross-origin domains as
// normalized origins.
type domainTrust struct {
	mu      sync.RWMutex
	fetched bool
	origins map[string]struct{}
}

func newDomainTrust() *domainTrust {
	return &domainTrust{origins: make(map[string]struct{})}
}

// populate replaces the trusted set. Bare hostnames become https origins;
// plain http entries are dropped.
func (d *domainTrust) populate(domains []string) {
	origins := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		domain = strings.TrimSpace(domain)
		if domain == "" || strings.HasPrefix(strings.ToLower(domain), "http://") {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(domain), "https://") {
			domain = "https://" + domain
		}
		origin, err := arcgis.Origin(domain)
		if err != nil {
			logging.Warn("DomainTrust", "Ignoring malformed authorized domain %q: %v", domain, err)
			continue
		}
		origins[origin] = struct{}{}
	}

	d.mu.Lock()
	d.origins = origins
	d.fetched = true
	d.mu.Unlock()
}

func (d *domainTrust) isFetched() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fetched
}

func (d *domainTrust) mode(url string) request.CredentialsMode {
	origin, err := arcgis.Origin(url)
	if err != nil {
		return request.CredentialsSameOrigin
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.origins[origin]; ok {
		return request.CredentialsInclude
	}
	return request.CredentialsSameOrigin
}

func (d *domainTrust) reset() {
	d.mu.Lock()
	d.origins = make(map[string]struct{})
	d.fetched = false
	d.mu.Unlock()
}

// TrustedDomains returns the normalized trusted origins known so far.
func (s *Session) TrustedDomains() []string {
	s.trust.mu.RLock()
	defer s.trust.mu.RUnlock()
	out := make([]string, 0, len(s.trust.origins))
	for origin := range s.trust.origins {
		out = append(out, origin)
	}
	return out
}

// DomainCredentials returns the credentials mode for url from the domains
// fetched so far, without any network call.
func (s *Session) DomainCredentials(url string) request.CredentialsMode {
	rec := s.Record()
	if rec.Portal == "" || rec.serverMode() {
		return request.CredentialsSameOrigin
	}
	return s.trust.mode(url)
}

// GetDomainCredentials returns "include" when url's origin is one of the
// portal's authorized cross-origin domains and "same-origin" otherwise. The
// domains are fetched once per session. Sessions without a portal always
// get "same-origin" and never fetch. A failed fetch yields "same-origin"
// and is retried on the next call.
func (s *Session) GetDomainCredentials(ctx context.Context, url string) request.CredentialsMode {
	if err := s.fetchAuthorizedDomains(ctx); err != nil {
		logging.Warn("DomainTrust", "Could not load authorized domains, using same-origin for %s: %v", url, err)
	}
	return s.DomainCredentials(url)
}

// fetchAuthorizedDomains loads the trusted domains from portals/self once.
func (s *Session) fetchAuthorizedDomains(ctx context.Context) error {
	rec := s.Record()
	if rec.Portal == "" || rec.serverMode() || s.trust.isFetched() {
		return nil
	}

	self, err := s.GetPortal(ctx)
	if err != nil {
		return err
	}
	if !s.trust.isFetched() {
		s.trust.populate(self.AuthorizedCrossOriginDomains)
		logging.Debug("DomainTrust", "Loaded %d authorized cross-origin domains from %s",
			len(self.AuthorizedCrossOriginDomains), rec.Portal)
	}
	return nil
}
