package arcgis

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultPortal is the portal used when a session names neither a portal
// nor a server.
const DefaultPortal = "https://www.arcgis.com/sharing/rest"

// DefaultTokenDuration is the lifetime, in minutes, requested from
// generateToken endpoints when the caller does not choose one (two weeks).
const DefaultTokenDuration = 20160

// ServerTokenExpiryMargin is subtracted from server token expiry times so a
// cached server token is replaced before the server starts rejecting it.
const ServerTokenExpiryMargin = 5 * time.Minute

// ErrorBody is the error shape returned by portals and servers, usually with
// an HTTP 200 status.
//
//	{"error": {"code": 498, "message": "Invalid token.", "details": []}}
type ErrorBody struct {
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail carries the fields of an error body.
type ErrorDetail struct {
	Code        int      `json:"code"`
	MessageCode string   `json:"messageCode,omitempty"`
	Message     string   `json:"message"`
	Details     []string `json:"details,omitempty"`
}

// OAuthErrorBody is the error shape of the oauth2/* endpoints when they
// answer with the OAuth style rather than the portal style.
type OAuthErrorBody struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// AuthInfo is the authInfo block of a server's rest/info response.
type AuthInfo struct {
	IsTokenBasedSecurity    bool   `json:"isTokenBasedSecurity"`
	TokenServicesURL        string `json:"tokenServicesUrl,omitempty"`
	ShortLivedTokenValidity int    `json:"shortLivedTokenValidity,omitempty"`
}

// ServerInfo is the response of POST <server root>/rest/info.
type ServerInfo struct {
	CurrentVersion  float64   `json:"currentVersion,omitempty"`
	FullVersion     string    `json:"fullVersion,omitempty"`
	OwningSystemURL string    `json:"owningSystemUrl,omitempty"`
	OwningTenant    string    `json:"owningTenant,omitempty"`
	AuthInfo        *AuthInfo `json:"authInfo,omitempty"`
}

// IsTokenBased reports whether the server advertises token based security
// together with a token service to mint tokens from.
func (s *ServerInfo) IsTokenBased() bool {
	return s != nil && s.AuthInfo != nil && s.AuthInfo.IsTokenBasedSecurity && s.AuthInfo.TokenServicesURL != ""
}

// PortalSelf is the subset of GET <portal>/portals/self used by the
// credential manager.
type PortalSelf struct {
	ID                           string   `json:"id,omitempty"`
	Name                         string   `json:"name,omitempty"`
	URLKey                       string   `json:"urlKey,omitempty"`
	CustomBaseURL                string   `json:"customBaseUrl,omitempty"`
	IsPortal                     bool     `json:"isPortal,omitempty"`
	AuthorizedCrossOriginDomains []string `json:"authorizedCrossOriginDomains,omitempty"`
	User                         *User    `json:"user,omitempty"`
}

// User is the subset of GET <portal>/community/self used by the credential
// manager.
type User struct {
	Username   string   `json:"username"`
	FullName   string   `json:"fullName,omitempty"`
	Email      string   `json:"email,omitempty"`
	OrgID      string   `json:"orgId,omitempty"`
	Role       string   `json:"role,omitempty"`
	Privileges []string `json:"privileges,omitempty"`
}

// GenerateTokenResponse is the response of a generateToken endpoint.
// Expires is in epoch milliseconds.
type GenerateTokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
	SSL     bool   `json:"ssl,omitempty"`
}

// ExpiresAt converts the epoch milliseconds expiry into a time.
func (r *GenerateTokenResponse) ExpiresAt() time.Time {
	return time.UnixMilli(r.Expires)
}

// OAuthTokenResponse is the response of <portal>/oauth2/token for every
// grant type the credential manager uses.
type OAuthTokenResponse struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int    `json:"expires_in"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int    `json:"refresh_token_expires_in,omitempty"`
	Username              string `json:"username,omitempty"`
	SSL                   bool   `json:"ssl,omitempty"`
}

// ToOAuth2Token converts the response into an oauth2.Token relative to now.
func (r *OAuthTokenResponse) ToOAuth2Token(now time.Time) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: r.RefreshToken,
	}
	if r.ExpiresIn > 0 {
		token.Expiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return token
}

// RevokeTokenResponse is the response of <portal>/oauth2/revokeToken.
type RevokeTokenResponse struct {
	Success bool `json:"success"`
}

// ValidateAppAccessResponse is the response of <portal>/oauth2/validateAppAccess.
type ValidateAppAccessResponse struct {
	Valid               bool `json:"valid"`
	ViewOnlyUserTypeApp bool `json:"viewOnlyUserTypeApp"`
}
