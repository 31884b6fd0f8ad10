package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"portalauth/pkg/logging"
)

const (
	userConfigDir  = ".config/portalauth"
	configFileName = "config.yaml"
)

// osUserHomeDir is swapped out in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPathOrPanic returns ~/.config/portalauth.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := osUserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig builds the configuration from the defaults, config.yaml in
// configPath, a .env file and PORTALAUTH_* environment variables, later
// sources winning.
func LoadConfig(configPath string) (Config, error) {
	config := GetDefaultConfig(configPath)
	configFilePath := filepath.Join(configPath, configFileName)

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("Config", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, &ConfigurationError{
			FilePath:  configFilePath,
			ErrorType: "io",
			Message:   "cannot read configuration file",
			Details:   err.Error(),
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, &ConfigurationError{
				FilePath:    configFilePath,
				ErrorType:   "parse",
				Message:     "malformed configuration file",
				Details:     err.Error(),
				Suggestions: []string{"check the YAML syntax", "durations are written like 30s or 1m"},
			}
		}
		logging.Debug("Config", "Loaded configuration from %s", configFilePath)
	}

	loadDotEnv()
	applyEnv(&config)

	if err := config.Validate(); err != nil {
		if cfgErr, ok := err.(*ConfigurationError); ok {
			cfgErr.FilePath = configFilePath
		}
		return Config{}, err
	}
	return config, nil
}

// applyEnv overrides fields from PORTALAUTH_* variables. Unset variables
// keep the current value.
func applyEnv(config *Config) {
	config.Portal = env.GetString("PORTALAUTH_PORTAL", config.Portal)
	config.Server = env.GetString("PORTALAUTH_SERVER", config.Server)
	config.ClientID = env.GetString("PORTALAUTH_CLIENT_ID", config.ClientID)
	config.RedirectURI = env.GetString("PORTALAUTH_REDIRECT_URI", config.RedirectURI)
	config.Referer = env.GetString("PORTALAUTH_REFERER", config.Referer)
	config.TokenDuration = env.GetInt("PORTALAUTH_TOKEN_DURATION", config.TokenDuration)
	config.SessionDir = env.GetString("PORTALAUTH_SESSION_DIR", config.SessionDir)
	config.SessionBackend = env.GetString("PORTALAUTH_SESSION_BACKEND", config.SessionBackend)
	config.SessionKeeperURL = env.GetString("PORTALAUTH_SESSION_KEEPER_URL", config.SessionKeeperURL)
	config.RequestsPerSecond = env.GetFloat64("PORTALAUTH_REQUESTS_PER_SECOND", config.RequestsPerSecond)
	config.RequestBurst = env.GetInt("PORTALAUTH_REQUEST_BURST", config.RequestBurst)
	config.LogLevel = env.GetString("PORTALAUTH_LOG_LEVEL", config.LogLevel)

	if _, ok := os.LookupEnv("PORTALAUTH_HTTP_TIMEOUT_SECONDS"); ok {
		config.HTTPTimeout = env.GetDuration("PORTALAUTH_HTTP_TIMEOUT_SECONDS", 30, time.Second)
	}
}

// loadDotEnv loads the nearest .env file walking up from the working
// directory. Variables already set in the environment are not replaced.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				logging.Warn("Config", "Ignoring unreadable %s: %v", envPath, err)
			}
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
