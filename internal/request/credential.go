package request

import (
	"context"
)

// CredentialsMode selects whether ambient credentials (cookies) accompany a
// request.
type CredentialsMode string

const (
	// CredentialsSameOrigin attaches cookies only when the target shares the
	// client's origin.
	CredentialsSameOrigin CredentialsMode = "same-origin"

	// CredentialsInclude attaches cookies to the target regardless of origin.
	CredentialsInclude CredentialsMode = "include"
)

// Authenticator supplies tokens and credential modes for request URLs.
// A managed session implements it. GetDomainCredentials may fetch the trust
// list on first use.
type Authenticator interface {
	GetToken(ctx context.Context, url string) (string, error)
	GetDomainCredentials(ctx context.Context, url string) CredentialsMode
}

// Credential is either a raw token string or a managed session. The zero
// value sends no token.
type Credential struct {
	token string
	auth  Authenticator
}

// RawToken wraps a bare token. It is attached as-is and never refreshed.
func RawToken(token string) Credential {
	return Credential{token: token}
}

// Managed wraps an Authenticator that picks a token per request URL.
func Managed(auth Authenticator) Credential {
	return Credential{auth: auth}
}

// IsZero reports whether the credential carries neither a token nor an
// authenticator.
func (c Credential) IsZero() bool {
	return c.token == "" && c.auth == nil
}

// IsManaged reports whether the credential wraps an Authenticator.
func (c Credential) IsManaged() bool {
	return c.auth != nil
}

// resolve returns the token and credentials mode for url.
func (c Credential) resolve(ctx context.Context, url string) (string, CredentialsMode, error) {
	if c.auth == nil {
		return c.token, CredentialsSameOrigin, nil
	}
	token, err := c.auth.GetToken(ctx, url)
	if err != nil {
		return "", "", err
	}
	return token, c.auth.GetDomainCredentials(ctx, url), nil
}
