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
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "twitter:\n  user_token: tok\n"))
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "./data/dedupe.db", cfg.Database.Path)
	assert.True(t, cfg.Poller.Enabled)
	assert.Equal(t, 70*time.Second, cfg.Poller.MinInterval)
	assert.Equal(t, 130*time.Second, cfg.Poller.MaxInterval)
	assert.Equal(t, "http", cfg.Fetcher.Mode)
	assert.Equal(t, 15, cfg.Fetcher.Limit)
	assert.True(t, cfg.Fetcher.Headless)
	assert.Equal(t, 260, cfg.Analysis.MaxLength)
	assert.Equal(t, 279, cfg.Reply.MaxLength)
	assert.Equal(t, 3, cfg.MaxFailuresBeforeSwitch)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("FICHUA_TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("FICHUA_TEST_USER_TOKEN", "user-from-env")

	cfg, err := LoadConfig(writeConfig(t, `
providers:
  - type: openai
    api_key: ${FICHUA_TEST_OPENAI_KEY}
    requests_per_minute: 20
twitter:
  user_token: ${FICHUA_TEST_USER_TOKEN}
poller:
  min_interval: 5s
  max_interval: 10s
`))
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
	assert.Equal(t, 20, cfg.Providers[0].RequestsPerMinute)
	assert.Equal(t, "user-from-env", cfg.Twitter.UserToken)
	assert.Equal(t, 5*time.Second, cfg.Poller.MinInterval)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown database", "database:\n  type: mongo\npoller:\n  enabled: false\n"},
		{"unknown fetcher mode", "fetcher:\n  mode: carrier\npoller:\n  enabled: false\n"},
		{"inverted interval", "poller:\n  enabled: false\n  min_interval: 2m\n  max_interval: 1m\n"},
		{"poller without token", "poller:\n  enabled: true\n"},
		{"typefully without key", "poller:\n  enabled: false\ntypefully:\n  enabled: true\n"},
		{"postgres without dsn", "database:\n  type: postgres\npoller:\n  enabled: false\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tt.yaml))
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_WebhookOnly(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "poller:\n  enabled: false\ndatabase:\n  type: memory\n"))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
