package config

import (
	"path/filepath"
	"time"

	"portalauth/pkg/arcgis"
)

const (
	// DefaultHTTPTimeout bounds every request to a portal or server.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultRequestsPerSecond caps outgoing requests. Zero disables the cap.
	DefaultRequestsPerSecond = 10.0

	// DefaultRequestBurst is the burst allowed above the rate.
	DefaultRequestBurst = 20

	sessionDirName = "sessions"
)

// GetDefaultConfig returns the configuration used when no file or
// environment overrides exist. configDir is where sessions are kept.
func GetDefaultConfig(configDir string) Config {
	return Config{
		Portal:            arcgis.DefaultPortal,
		TokenDuration:     arcgis.DefaultTokenDuration,
		SessionDir:        filepath.Join(configDir, sessionDirName),
		SessionBackend:    "file",
		HTTPTimeout:       DefaultHTTPTimeout,
		RequestsPerSecond: DefaultRequestsPerSecond,
		RequestBurst:      DefaultRequestBurst,
		LogLevel:          "info",
	}
}
