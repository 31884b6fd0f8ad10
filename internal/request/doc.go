// Package request is the HTTP layer between the credential manager and
// portals or servers.
//
// It encodes parameters (query string for GET, form body for POST, f=json by
// default), decodes JSON responses and turns error-shaped bodies into typed
// errors:
//
//	{"error": {"code": 498, "message": "Invalid token."}}   -> *AuthError
//	{"error": {"code": 400, "message": "Unable to ..."}}    -> *ResponseError
//
// Codes 498 and 499 and message code GWM_0003 mark an AuthError. Everything
// else that is error-shaped becomes a ResponseError; transport failures are
// returned wrapped.
//
// A Credential is resolved once per request: RawToken attaches a fixed token,
// Managed asks an Authenticator for the token and the credentials mode of the
// target URL. The credentials mode decides whether cookies from the client's
// jar accompany the request.
package request
