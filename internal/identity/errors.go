package identity

import (
	"errors"
	"fmt"

	"portalauth/internal/request"
)

// Kind classifies credential manager failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFederated: the target server does not trust the portal and is
	// not pre-trusted, yet it demanded a token.
	KindNotFederated
	// KindTokenRefreshFailed: no refresh path exists or the refresh token or
	// password was rejected. The user must sign in again.
	KindTokenRefreshFailed
	// KindRefreshTokenExchangeFailed: rotating a nearly expired refresh token
	// failed.
	KindRefreshTokenExchangeFailed
	// KindGenerateTokenForServerFailed: the federated server's token service
	// refused to mint a server token.
	KindGenerateTokenForServerFailed
)

// String returns the error code of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFederated:
		return "NOT_FEDERATED"
	case KindTokenRefreshFailed:
		return "TOKEN_REFRESH_FAILED"
	case KindRefreshTokenExchangeFailed:
		return "REFRESH_TOKEN_EXCHANGE_FAILED"
	case KindGenerateTokenForServerFailed:
		return "GENERATE_TOKEN_FOR_SERVER_FAILED"
	default:
		return "UNKNOWN_ERROR_CODE"
	}
}

// Error is a token or federation failure. It carries the URL and request
// options that produced it so callers can report it without losing context.
type Error struct {
	Kind    Kind
	Message string

	// URL and Options describe the failing request, when there was one.
	URL     string
	Options request.Options

	// Response is the error-shaped response returned by the endpoint, if any.
	Response *request.ResponseError

	// Err is the underlying cause.
	Err error
}

// Error renders "CODE: message".
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is or wraps an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var idErr *Error
	return errors.As(err, &idErr) && idErr.Kind == kind
}

// wrapRequestError converts a failure from a token endpoint into an *Error of
// the given kind, keeping the request context of the original error.
func wrapRequestError(kind Kind, err error, url string, opts request.Options) *Error {
	out := &Error{
		Kind:    kind,
		Message: err.Error(),
		URL:     url,
		Options: redactOptions(opts),
		Err:     err,
	}

	var respErr *request.ResponseError
	if errors.As(err, &respErr) {
		resp := *respErr
		resp.Options = redactOptions(resp.Options)
		out.Response = &resp
		if respErr.Message != "" {
			out.Message = respErr.Message
		}
	}
	return out
}

// redactOptions masks secrets before options are attached to an error.
func redactOptions(opts request.Options) request.Options {
	secrets := []string{"password", "client_secret", "refresh_token", "token"}
	for _, key := range secrets {
		if _, ok := opts.Params[key]; ok {
			opts = opts.WithParam(key, "***")
		}
	}
	return opts
}
