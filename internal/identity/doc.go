// Package identity manages ArcGIS credentials for one signed-in user or
// application.
//
// A Session wraps a credential record (portal token, refresh token or
// password, client id) and answers one question for every outbound request:
// which token, if any, belongs on it. URLs on the portal or on ArcGIS Online
// in the portal's environment get the portal token. URLs on a server that is
// federated with the portal get a server token, minted from the server's
// token service and cached per server until five minutes before it expires.
// Anything else is sent anonymously; a server that then demands a token is
// reported as NOT_FEDERATED.
//
// Expired portal tokens are refreshed transparently, preferring the refresh
// token over a stored password. Concurrent refreshes, server lookups and
// server token exchanges are coalesced so each happens once.
//
// The session also decides whether cookies may accompany a request, based
// on the portal's authorized cross-origin domains.
//
// ApplicationCredentials covers app-only access through the OAuth client
// credentials grant.
package identity
