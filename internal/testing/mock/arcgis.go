package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// ArcGISConfig configures the fake ArcGIS deployment.
type ArcGISConfig struct {
	// Clock drives token expiry on the fake. Defaults to RealClock.
	Clock Clock

	// Username and Password are accepted by generateToken endpoints.
	Username string
	Password string

	// ClientID, ClientSecret and RefreshToken are accepted by oauth2/token.
	ClientID     string
	ClientSecret string
	RefreshToken string

	// AuthorizationCode is the one code oauth2/token exchanges.
	AuthorizationCode string

	// TokenLifetime applies to portal tokens, ServerTokenLifetime to server
	// tokens and RefreshTokenLifetime to rotated refresh tokens.
	TokenLifetime        time.Duration
	ServerTokenLifetime  time.Duration
	RefreshTokenLifetime time.Duration

	// AuthorizedDomains is returned by portals/self.
	AuthorizedDomains []string

	// Servers maps a path prefix to the ArcGIS Server mounted there.
	Servers map[string]FakeServer

	// Delay is added to every response.
	Delay time.Duration
}

// FakeServer describes one ArcGIS Server behind the fake.
type FakeServer struct {
	// Federated makes rest/info name the fake portal as owning system.
	Federated bool

	// OwningSystemURL is reported when the server is not federated with the
	// fake portal.
	OwningSystemURL string

	// Secured makes services demand a server token and advertises a token
	// service in rest/info.
	Secured bool
}

type issuedToken struct {
	server  string
	expires time.Time
}

// ArcGIS is a fake portal plus any number of ArcGIS Servers on one
// httptest server. The portal lives under /portal/sharing/rest and each
// server under /<name>/rest.
type ArcGIS struct {
	config ArcGISConfig
	clock  Clock
	router *mux.Router
	server *httptest.Server

	mu            sync.Mutex
	calls         map[string]int
	params        map[string]url.Values
	tokens        map[string]issuedToken
	refreshTokens map[string]time.Time
	rejectAll     bool
	failures      map[string]map[int]int
	seq           int
}

// NewArcGIS starts the fake. Call Close when done.
func NewArcGIS(config ArcGISConfig) *ArcGIS {
	if config.TokenLifetime == 0 {
		config.TokenLifetime = time.Hour
	}
	if config.ServerTokenLifetime == 0 {
		config.ServerTokenLifetime = time.Hour
	}
	if config.RefreshTokenLifetime == 0 {
		config.RefreshTokenLifetime = 14 * 24 * time.Hour
	}
	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}

	a := &ArcGIS{
		config:        config,
		clock:         clock,
		calls:         make(map[string]int),
		params:        make(map[string]url.Values),
		tokens:        make(map[string]issuedToken),
		refreshTokens: make(map[string]time.Time),
		failures:      make(map[string]map[int]int),
	}
	if config.RefreshToken != "" {
		a.refreshTokens[config.RefreshToken] = time.Time{}
	}
	a.router = a.routes()
	a.server = httptest.NewServer(http.HandlerFunc(a.handle))
	return a
}

const portalPrefix = "/portal/sharing/rest"

func (a *ArcGIS) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, 404, "Not found.")
	})

	portal := r.PathPrefix(portalPrefix).Subrouter()
	portal.HandleFunc("/generateToken", a.handleGenerateToken)
	portal.HandleFunc("/oauth2/token", a.handleOAuthToken)
	portal.HandleFunc("/oauth2/revokeToken", a.handleRevokeToken)
	portal.HandleFunc("/oauth2/validateAppAccess", a.handleValidateAppAccess)
	portal.HandleFunc("/portals/self", a.handlePortalSelf)
	portal.HandleFunc("/community/self", a.handleCommunitySelf)
	portal.PathPrefix("").HandlerFunc(a.handlePortalResource)

	r.HandleFunc("/{server}/rest/info", a.withServer(a.handleServerInfo))
	r.HandleFunc("/{server}/tokens/generateToken", a.withServer(a.handleServerToken))
	r.PathPrefix("/{server}/rest/services").HandlerFunc(a.withServer(a.handleServerResource))
	r.PathPrefix("/{server}/rest/admin").HandlerFunc(a.withServer(a.handleServerResource))
	return r
}

// Close shuts the fake down.
func (a *ArcGIS) Close() {
	a.server.Close()
}

// URL returns the base URL of the fake.
func (a *ArcGIS) URL() string {
	return a.server.URL
}

// PortalURL returns the portal REST root.
func (a *ArcGIS) PortalURL() string {
	return a.server.URL + "/portal/sharing/rest"
}

// ServerURL returns the services root of the named server.
func (a *ArcGIS) ServerURL(name string) string {
	return a.server.URL + "/" + name + "/rest/services"
}

// Calls returns how many requests hit path.
func (a *ArcGIS) Calls(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[path]
}

// LastParams returns the form values of the last request to path.
func (a *ArcGIS) LastParams(path string) url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params[path]
}

// IssuePortalToken mints a portal token as if the user had signed in
// elsewhere.
func (a *ArcGIS) IssuePortalToken() (string, time.Time) {
	return a.issue("portal", "")
}

// RevokeAll invalidates every issued token. Refresh tokens stay valid.
func (a *ArcGIS) RevokeAll() {
	a.mu.Lock()
	a.tokens = make(map[string]issuedToken)
	a.mu.Unlock()
}

// FailCall makes the nth request (counting from 1) to path answer with the
// error envelope for code instead of its normal response.
func (a *ArcGIS) FailCall(path string, n, code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures[path] == nil {
		a.failures[path] = make(map[int]int)
	}
	a.failures[path][n] = code
}

// SetRejectAll makes every secured resource answer 498 regardless of the
// token presented.
func (a *ArcGIS) SetRejectAll(reject bool) {
	a.mu.Lock()
	a.rejectAll = reject
	a.mu.Unlock()
}

func (a *ArcGIS) issue(prefix, server string) (string, time.Time) {
	lifetime := a.config.TokenLifetime
	if server != "" {
		lifetime = a.config.ServerTokenLifetime
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	token := fmt.Sprintf("%s-token-%04d", prefix, a.seq)
	expires := a.clock.Now().Add(lifetime)
	a.tokens[token] = issuedToken{server: server, expires: expires}
	return token, expires
}

func (a *ArcGIS) issueRefreshToken() (string, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	token := fmt.Sprintf("refresh-token-%04d", a.seq)
	expires := a.clock.Now().Add(a.config.RefreshTokenLifetime)
	a.refreshTokens[token] = expires
	return token, expires
}

// tokenState returns 0 when token is valid for server, 499 when it is
// missing and 498 otherwise. The portal uses server "".
func (a *ArcGIS) tokenState(token, server string) int {
	if token == "" {
		return 499
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rejectAll {
		return 498
	}
	issued, ok := a.tokens[token]
	if !ok || issued.server != server || !issued.expires.After(a.clock.Now()) {
		return 498
	}
	return 0
}

func (a *ArcGIS) refreshTokenValid(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expires, ok := a.refreshTokens[token]
	return ok && (expires.IsZero() || expires.After(a.clock.Now()))
}

// handle records the call and hands the request to the router.
func (a *ArcGIS) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, 400, "Unable to parse request.")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	a.mu.Lock()
	a.calls[path]++
	a.params[path] = r.Form
	failure := a.failures[path][a.calls[path]]
	a.mu.Unlock()

	if failure != 0 {
		writeError(w, http.StatusOK, failure, "Scripted failure.")
		return
	}

	if a.config.Delay > 0 {
		time.Sleep(a.config.Delay)
	}

	r.URL.Path = path
	a.router.ServeHTTP(w, r)
}

func (a *ArcGIS) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("username") != a.config.Username || r.FormValue("password") != a.config.Password {
		writeError(w, http.StatusOK, 400, "Unable to generate token.", "Invalid username or password.")
		return
	}
	token, expires := a.issue("portal", "")
	writeJSON(w, map[string]any{"token": token, "expires": expires.UnixMilli(), "ssl": true})
}

func (a *ArcGIS) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	delete(a.tokens, r.FormValue("auth_token"))
	delete(a.refreshTokens, r.FormValue("auth_token"))
	a.mu.Unlock()
	writeJSON(w, map[string]any{"success": true})
}

func (a *ArcGIS) handleValidateAppAccess(w http.ResponseWriter, r *http.Request) {
	if state := a.tokenState(r.FormValue("token"), ""); state != 0 {
		writeTokenError(w, state)
		return
	}
	writeJSON(w, map[string]any{"valid": r.FormValue("client_id") == a.config.ClientID, "viewOnlyUserTypeApp": false})
}

func (a *ArcGIS) handlePortalSelf(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"id":                           "fake-portal",
		"name":                         "Fake Portal",
		"isPortal":                     true,
		"authorizedCrossOriginDomains": a.config.AuthorizedDomains,
	})
}

func (a *ArcGIS) handleCommunitySelf(w http.ResponseWriter, r *http.Request) {
	if state := a.tokenState(r.FormValue("token"), ""); state != 0 {
		writeTokenError(w, state)
		return
	}
	writeJSON(w, map[string]any{
		"username": a.config.Username,
		"fullName": "Fake User",
		"orgId":    "fake-org",
		"role":     "org_user",
	})
}

// handlePortalResource answers any other portal path for a valid token.
func (a *ArcGIS) handlePortalResource(w http.ResponseWriter, r *http.Request) {
	if state := a.tokenState(r.FormValue("token"), ""); state != 0 {
		writeTokenError(w, state)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "path": strings.TrimPrefix(r.URL.Path, portalPrefix)})
}

func (a *ArcGIS) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	if clientID != a.config.ClientID {
		writeOAuthError(w, "invalid_client", "Invalid client_id")
		return
	}
	lifetime := int(a.config.TokenLifetime / time.Second)

	switch r.FormValue("grant_type") {
	case "refresh_token":
		if !a.refreshTokenValid(r.FormValue("refresh_token")) {
			writeOAuthError(w, "invalid_request", "Invalid refresh_token")
			return
		}
		token, _ := a.issue("portal", "")
		writeJSON(w, map[string]any{"access_token": token, "expires_in": lifetime, "username": a.config.Username, "ssl": true})

	case "exchange_refresh_token":
		if !a.refreshTokenValid(r.FormValue("refresh_token")) {
			writeOAuthError(w, "invalid_request", "Invalid refresh_token")
			return
		}
		token, _ := a.issue("portal", "")
		refresh, refreshExpires := a.issueRefreshToken()
		writeJSON(w, map[string]any{
			"access_token":             token,
			"expires_in":               lifetime,
			"refresh_token":            refresh,
			"refresh_token_expires_in": int(refreshExpires.Sub(a.clock.Now()) / time.Second),
			"username":                 a.config.Username,
			"ssl":                      true,
		})

	case "authorization_code":
		if a.config.AuthorizationCode == "" || r.FormValue("code") != a.config.AuthorizationCode {
			writeOAuthError(w, "invalid_grant", "Invalid authorization code")
			return
		}
		token, _ := a.issue("portal", "")
		refresh, refreshExpires := a.issueRefreshToken()
		writeJSON(w, map[string]any{
			"access_token":             token,
			"expires_in":               lifetime,
			"refresh_token":            refresh,
			"refresh_token_expires_in": int(refreshExpires.Sub(a.clock.Now()) / time.Second),
			"username":                 a.config.Username,
			"ssl":                      true,
		})

	case "client_credentials":
		if r.FormValue("client_secret") != a.config.ClientSecret {
			writeOAuthError(w, "invalid_client", "Invalid client_secret")
			return
		}
		minutes, _ := strconv.Atoi(r.FormValue("expiration"))
		if minutes <= 0 {
			minutes = int(a.config.TokenLifetime / time.Minute)
		}
		token, _ := a.issue("app", "")
		writeJSON(w, map[string]any{"access_token": token, "expires_in": minutes * 60})

	default:
		writeOAuthError(w, "unsupported_grant_type", "Unsupported grant_type")
	}
}

type serverHandler func(w http.ResponseWriter, r *http.Request, name string, server FakeServer)

// withServer resolves the {server} route variable to a configured server.
func (a *ArcGIS) withServer(next serverHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["server"]
		server, ok := a.config.Servers[name]
		if !ok {
			writeError(w, http.StatusNotFound, 404, "Not found.")
			return
		}
		next(w, r, name, server)
	}
}

func (a *ArcGIS) handleServerInfo(w http.ResponseWriter, _ *http.Request, name string, server FakeServer) {
	info := map[string]any{"currentVersion": 11.1, "fullVersion": "11.1.0"}
	if server.Federated {
		info["owningSystemUrl"] = a.server.URL + "/portal"
	} else if server.OwningSystemURL != "" {
		info["owningSystemUrl"] = server.OwningSystemURL
	}
	if server.Secured {
		info["authInfo"] = map[string]any{
			"isTokenBasedSecurity":    true,
			"tokenServicesUrl":        a.server.URL + "/" + name + "/tokens/generateToken",
			"shortLivedTokenValidity": 60,
		}
	} else {
		info["authInfo"] = map[string]any{"isTokenBasedSecurity": false}
	}
	writeJSON(w, info)
}

// handleServerToken accepts either a portal token (federated exchange) or a
// username and password.
func (a *ArcGIS) handleServerToken(w http.ResponseWriter, r *http.Request, name string, server FakeServer) {
	if portalToken := r.FormValue("token"); portalToken != "" {
		if !server.Federated {
			writeError(w, http.StatusOK, 400, "Unable to generate token.", "Server is not federated.")
			return
		}
		if state := a.tokenState(portalToken, ""); state != 0 {
			writeTokenError(w, state)
			return
		}
	} else if r.FormValue("username") != a.config.Username || r.FormValue("password") != a.config.Password {
		writeError(w, http.StatusOK, 400, "Unable to generate token.", "Invalid username or password.")
		return
	}
	token, expires := a.issue(name, name)
	writeJSON(w, map[string]any{"token": token, "expires": expires.UnixMilli(), "ssl": false})
}

func (a *ArcGIS) handleServerResource(w http.ResponseWriter, r *http.Request, name string, server FakeServer) {
	if server.Secured {
		if state := a.tokenState(r.FormValue("token"), name); state != 0 {
			writeTokenError(w, state)
			return
		}
	}
	writeJSON(w, map[string]any{"ok": true, "server": name, "path": strings.TrimPrefix(r.URL.Path, "/"+name)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the portal error envelope. ArcGIS reports most errors
// with HTTP 200 and the code in the body.
func writeError(w http.ResponseWriter, status, code int, message string, details ...string) {
	if details == nil {
		details = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message, "details": details},
	})
}

func writeTokenError(w http.ResponseWriter, state int) {
	if state == 499 {
		writeError(w, http.StatusOK, 499, "Token Required")
		return
	}
	writeError(w, http.StatusOK, 498, "Invalid Token")
}

func writeOAuthError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
