// Package config loads the portalauth configuration.
//
// Sources, later ones winning:
//
//  1. GetDefaultConfig: ArcGIS Online, 20160 minute tokens, 30s timeout,
//     10 requests per second, sessions under <config dir>/sessions.
//  2. config.yaml in the configuration directory (~/.config/portalauth by
//     default, --config-path to change it).
//  3. A .env file in the working directory or one of its parents.
//  4. PORTALAUTH_* environment variables:
//
//     PORTALAUTH_PORTAL, PORTALAUTH_SERVER, PORTALAUTH_CLIENT_ID,
//     PORTALAUTH_REDIRECT_URI, PORTALAUTH_REFERER, PORTALAUTH_TOKEN_DURATION,
//     PORTALAUTH_SESSION_DIR, PORTALAUTH_SESSION_BACKEND,
//     PORTALAUTH_SESSION_KEEPER_URL, PORTALAUTH_HTTP_TIMEOUT_SECONDS,
//     PORTALAUTH_REQUESTS_PER_SECOND, PORTALAUTH_REQUEST_BURST,
//     PORTALAUTH_LOG_LEVEL
//
// Example config.yaml:
//
//	portal: https://org.example.com/portal/sharing/rest
//	clientId: abc123
//	tokenDuration: 120
//	httpTimeout: 45s
//	logLevel: debug
//	sessionBackend: sqlite
//
// The merged result is validated; failures are reported as a
// *ConfigurationError listing every offending field.
package config
