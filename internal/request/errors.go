package request

import (
	"errors"
	"fmt"
)

// Error codes and message codes that mean "invalid or required token".
const (
	CodeInvalidToken  = 498
	CodeTokenRequired = 499

	MessageCodeTokenRequired = "GWM_0003"
)

var statusMessages = map[int]string{
	CodeInvalidToken:  "Invalid token.",
	CodeTokenRequired: "Token Required.",
}

// ResponseError is an error-shaped response from a portal or server.
type ResponseError struct {
	URL         string
	Options     Options
	Status      int
	Code        int
	MessageCode string
	Message     string
	Details     []string
}

func (e *ResponseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
}

// AuthError is a ResponseError that reports an invalid or missing token.
// Callers holding a refreshable credential may retry once after refreshing.
type AuthError struct {
	ResponseError
}

func (e *AuthError) Unwrap() error {
	return &e.ResponseError
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// isAuthResponse reports whether a code/messageCode pair means the token was
// rejected or required.
func isAuthResponse(code int, messageCode string) bool {
	return code == CodeInvalidToken || code == CodeTokenRequired || messageCode == MessageCodeTokenRequired
}

// classify builds the error value for an error-shaped response.
func classify(base ResponseError) error {
	if isAuthResponse(base.Code, base.MessageCode) {
		return &AuthError{ResponseError: base}
	}
	if base.Code == 0 && isAuthResponse(base.Status, "") {
		base.Code = base.Status
		if base.Message == "" {
			base.Message = statusMessages[base.Status]
		}
		return &AuthError{ResponseError: base}
	}
	return &base
}
