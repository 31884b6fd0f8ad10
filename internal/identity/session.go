package identity

import (
	"sync"
	"time"

	"portalauth/internal/request"
	"portalauth/pkg/arcgis"
	"portalauth/pkg/logging"
)

// DefaultReferer is sent as the referer of generateToken requests when the
// record does not name one.
const DefaultReferer = "portalauth"

// Clock provides the current time. Tests substitute a controllable clock to
// cross expiry boundaries without waiting.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Record is the credential record of a session: the portal token, how to
// refresh it, and who it belongs to. A zero TokenExpires means the token
// never expires.
type Record struct {
	Token               string
	TokenExpires        time.Time
	RefreshToken        string
	RefreshTokenExpires time.Time
	Username            string
	Password            string
	ClientID            string
	Portal              string
	Server              string
	SSL                 bool
	TokenDuration       int
	RedirectURI         string
	Referer             string
}

// Refreshable reports whether the record holds a refresh token with a
// client id, or a username and password.
func (r Record) Refreshable() bool {
	return (r.ClientID != "" && r.RefreshToken != "") || (r.Username != "" && r.Password != "")
}

// TokenValid reports whether the token can be used at now. A token without
// an expiry is always valid; a token expiring exactly at now is not.
func (r Record) TokenValid(now time.Time) bool {
	if r.Token == "" {
		return false
	}
	return r.TokenExpires.IsZero() || r.TokenExpires.After(now)
}

// refreshTokenValid reports whether the refresh token can still be used.
func (r Record) refreshTokenValid(now time.Time) bool {
	if r.RefreshToken == "" || r.ClientID == "" {
		return false
	}
	return r.RefreshTokenExpires.IsZero() || r.RefreshTokenExpires.After(now)
}

// serverMode reports whether the record is scoped to a single server rather
// than a portal.
func (r Record) serverMode() bool {
	return r.Server != ""
}

// Session manages one credential record: it hands out tokens per request
// URL, refreshes the portal token, mints and caches tokens for federated
// servers and decides the credentials mode of outbound requests.
//
// A Session is safe for concurrent use.
type Session struct {
	requester request.Requester
	clock     Clock
	metrics   *Metrics

	mu     sync.RWMutex
	record Record

	serverTokens *serverTokenCache
	serverInfos  *serverInfoCache
	trust        *domainTrust
	challenges   *challengeSet

	refreshes coalescer[Record]
	tokens    coalescer[string]
	infos     coalescer[*arcgis.ServerInfo]
	portals   coalescer[*arcgis.PortalSelf]
	users     coalescer[*arcgis.User]

	profileMu  sync.RWMutex
	user       *arcgis.User
	portalSelf *arcgis.PortalSelf
}

// Option configures a Session.
type Option func(*Session)

// WithRequester sets the request layer used for every network call.
func WithRequester(r request.Requester) Option {
	return func(s *Session) {
		s.requester = r
	}
}

// WithClock sets the clock used for expiry decisions.
func WithClock(c Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithMetrics shares a Metrics instance between sessions.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// New creates a session around rec. Without a portal or a server the
// session targets ArcGIS Online. No network call is made.
func New(rec Record, opts ...Option) *Session {
	rec.Portal = arcgis.CleanURL(rec.Portal)
	rec.Server = arcgis.CleanURL(rec.Server)
	if rec.Portal == "" && rec.Server == "" {
		rec.Portal = arcgis.DefaultPortal
	}
	if rec.TokenDuration <= 0 {
		rec.TokenDuration = arcgis.DefaultTokenDuration
	}

	s := applyOptions(opts)
	s.record = rec
	s.serverTokens = newServerTokenCache()
	s.serverInfos = newServerInfoCache()
	s.trust = newDomainTrust()
	s.challenges = newChallengeSet()

	logging.Debug("Identity", "Created session portal=%s server=%s username=%s refreshable=%t",
		rec.Portal, rec.Server, rec.Username, rec.Refreshable())
	return s
}

// applyOptions builds a Session holding only the plumbing the options
// configure, with defaults filled in.
func applyOptions(opts []Option) *Session {
	s := &Session{clock: realClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.requester == nil {
		s.requester = request.NewClient()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

// Record returns a snapshot of the credential record.
func (s *Session) Record() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// Portal returns the portal URL, empty for server-scoped sessions created
// without one.
func (s *Session) Portal() string {
	return s.Record().Portal
}

// Refreshable reports whether the session can obtain a new token on its own.
func (s *Session) Refreshable() bool {
	return s.Record().Refreshable()
}

// Metrics returns the session's counters.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// UpdateToken replaces the portal token, for callers that obtained a new one
// from an external source.
func (s *Session) UpdateToken(token string, expires time.Time) {
	s.mu.Lock()
	s.record.Token = token
	s.record.TokenExpires = expires
	s.mu.Unlock()
}

// referer returns the referer sent to generateToken endpoints.
func (r Record) referer() string {
	if r.Referer != "" {
		return r.Referer
	}
	return DefaultReferer
}
