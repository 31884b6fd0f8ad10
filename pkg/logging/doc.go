// Package logging provides the structured logger used across portalauth.
//
// It is a thin layer over log/slog that tags every entry with a subsystem
// name, so output from the federation resolver, the token refresher and the
// CLI can be filtered independently.
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Debug("Federation", "classified %s as %s", url, plan.Kind)
//	logging.Error("Refresher", err, "refresh failed for portal %s", portal)
//
// Subsystems in use:
//
//   - Identity: session lifecycle (construction, serialization, destroy)
//   - Federation: server classification and server token exchange
//   - Refresher: portal token refresh strategies
//   - DomainTrust: authorized cross-origin domain lookups
//   - Request: the HTTP request layer
//   - SessionStore: on-disk session persistence
//   - CLI: command execution
//
// Tokens are never logged raw. Use RedactToken when a token needs to be
// correlated in debug output.
//
// # Audit Logging
//
// Credential lifecycle events (refresh, revoke, server token exchange) are
// emitted through Audit at INFO level with an [AUDIT] prefix.
package logging
