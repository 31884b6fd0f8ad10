package config

import "time"

// Config is the portalauth configuration.
type Config struct {
	// Portal is the portal REST root, e.g. https://www.arcgis.com/sharing/rest.
	Portal string `yaml:"portal,omitempty"`
	// Server scopes sessions to a single ArcGIS Server instead of a portal.
	Server string `yaml:"server,omitempty"`

	ClientID    string `yaml:"clientId,omitempty"`
	RedirectURI string `yaml:"redirectUri,omitempty"`
	Referer     string `yaml:"referer,omitempty"`

	// TokenDuration is the requested token lifetime in minutes.
	TokenDuration int `yaml:"tokenDuration,omitempty"`

	// SessionDir holds persisted sessions.
	SessionDir string `yaml:"sessionDir,omitempty"`
	// SessionBackend is "file" (one JSON file per session) or "sqlite".
	SessionBackend string `yaml:"sessionBackend,omitempty"`
	// SessionKeeperURL encrypts stored sessions, e.g. base64key://<key>.
	SessionKeeperURL string `yaml:"sessionKeeperUrl,omitempty"`

	HTTPTimeout       time.Duration `yaml:"httpTimeout,omitempty"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond,omitempty"`
	RequestBurst      int           `yaml:"requestBurst,omitempty"`

	LogLevel string `yaml:"logLevel,omitempty"`
}
