package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50000, cfg.Validation.MaxLength)
	assert.Equal(t, 100, cfg.Validation.MaxNameLength)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, []string{"all"}, cfg.Privacy.Detectors)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
privacy:
  detectors: [PHONE, email]
  direct_identifiers:
    guardian: KEY_PERSON_NAME
session:
  ttl: 5m
logging:
  level: debug
`)
	t.Setenv("SENTINEL_SESSION_BACKEND", "redis")
	t.Setenv("SENTINEL_VALIDATION_MAX_LENGTH", "1000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"PHONE", "email"}, cfg.Privacy.Detectors)
	assert.Equal(t, "KEY_PERSON_NAME", cfg.Privacy.DirectIdentifiers["guardian"])
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, 1000, cfg.Validation.MaxLength)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := map[string]string{
		"port":            "server:\n  port: 70000\n",
		"session backend": "session:\n  backend: memcached\n",
		"max length":      "validation:\n  max_length: 0\n",
		"log level":       "logging:\n  level: loud\n",
		"log format":      "logging:\n  format: xml\n",
		"rate limit":      "security:\n  rate_limit:\n    requests_per_second: 0\n",
		"audit url":       "audit:\n  enabled: true\n  database_url: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadAndWatchReturnsInitialConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8181\n")
	cfg, err := LoadAndWatch(path, func(*Config) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
}
