package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalauth/pkg/arcgis"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o644))
}

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORTALAUTH_PORTAL", "PORTALAUTH_SERVER", "PORTALAUTH_CLIENT_ID",
		"PORTALAUTH_REDIRECT_URI", "PORTALAUTH_REFERER", "PORTALAUTH_TOKEN_DURATION",
		"PORTALAUTH_SESSION_DIR", "PORTALAUTH_SESSION_BACKEND", "PORTALAUTH_SESSION_KEEPER_URL",
		"PORTALAUTH_HTTP_TIMEOUT_SECONDS",
		"PORTALAUTH_REQUESTS_PER_SECOND", "PORTALAUTH_REQUEST_BURST", "PORTALAUTH_LOG_LEVEL",
	} {
		if value, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestLoadConfig_DefaultsOnly(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(dir), cfg)
	assert.Equal(t, arcgis.DefaultPortal, cfg.Portal)
	assert.Equal(t, filepath.Join(dir, "sessions"), cfg.SessionDir)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfigFile(t, dir, `
portal: https://org.example.com/portal/sharing/rest
clientId: abc123
tokenDuration: 120
httpTimeout: 45s
logLevel: debug
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://org.example.com/portal/sharing/rest", cfg.Portal)
	assert.Equal(t, "abc123", cfg.ClientID)
	assert.Equal(t, 120, cfg.TokenDuration)
	assert.Equal(t, 45*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultRequestsPerSecond, cfg.RequestsPerSecond)
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfigFile(t, dir, "portal: https://org.example.com/portal/sharing/rest\n")

	t.Setenv("PORTALAUTH_PORTAL", "https://other.example.com/portal/sharing/rest")
	t.Setenv("PORTALAUTH_TOKEN_DURATION", "60")
	t.Setenv("PORTALAUTH_HTTP_TIMEOUT_SECONDS", "5")
	t.Setenv("PORTALAUTH_REQUESTS_PER_SECOND", "0")
	t.Setenv("PORTALAUTH_SESSION_BACKEND", "sqlite")
	t.Setenv("PORTALAUTH_SESSION_KEEPER_URL", "base64key://c2VjcmV0")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/portal/sharing/rest", cfg.Portal)
	assert.Equal(t, 60, cfg.TokenDuration)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 0.0, cfg.RequestsPerSecond)
	assert.Equal(t, "sqlite", cfg.SessionBackend)
	assert.Equal(t, "base64key://c2VjcmV0", cfg.SessionKeeperURL)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfigFile(t, dir, "portal: [unterminated\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "parse", cfgErr.ErrorType)
	assert.Equal(t, filepath.Join(dir, configFileName), cfgErr.FilePath)
	assert.NotEmpty(t, cfgErr.Suggestions)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfigFile(t, dir, "portal: ftp://org.example.com\ntokenDuration: -1\n")

	_, err := LoadConfig(dir)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "validation", cfgErr.ErrorType)
	require.Len(t, cfgErr.Fields, 2)
	assert.Equal(t, "portal", cfgErr.Fields[0].Field)
	assert.Equal(t, "tokenDuration", cfgErr.Fields[1].Field)
	assert.Contains(t, cfgErr.DetailedError(), "tokenDuration")
}

func TestGetDefaultConfigPathOrPanic(t *testing.T) {
	original := osUserHomeDir
	defer func() { osUserHomeDir = original }()

	osUserHomeDir = func() (string, error) { return "/home/casey", nil }
	assert.Equal(t, filepath.Join("/home/casey", ".config/portalauth"), GetDefaultConfigPathOrPanic())

	osUserHomeDir = func() (string, error) { return "", errors.New("no home") }
	assert.Panics(t, func() { GetDefaultConfigPathOrPanic() })
}
