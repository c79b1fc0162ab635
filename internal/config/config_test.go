package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
app:
  name: atelier
  environment: test
database:
  path: ./atelier.db
escrow:
  base_url: https://escrow.example.com
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "atelier", cfg.App.Name)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.True(t, cfg.API.Auth.Enabled)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, float64(20), cfg.API.RateLimit.RPS)
	assert.Equal(t, 40, cfg.API.RateLimit.Burst)
	assert.Equal(t, 10, cfg.Escrow.TimeoutSeconds)
	assert.Equal(t, 15, cfg.Workers.DeadlineIntervalMinutes)
	assert.Equal(t, 24, cfg.Workers.ReminderLeadHours)
	assert.Equal(t, 30, cfg.Workers.SyncIntervalSeconds)
	assert.Equal(t, "exports", cfg.Exports.Path)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("ESCROW_API_KEY", "sk-test-123")
	content := minimalConfig + `
  api_key: ${ESCROW_API_KEY}
`
	cfg, err := Load(writeConfigFile(t, content))
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Escrow.APIKey)
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(writeConfigFile(t, `
app:
  name: atelier
escrow:
  base_url: https://escrow.example.com
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database path")

	_, err = Load(writeConfigFile(t, `
database:
  path: ./atelier.db
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escrow base_url")

	_, err = Load(writeConfigFile(t, minimalConfig+`
telegram:
  enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram bot token")

	_, err = Load(writeConfigFile(t, minimalConfig+`
api:
  auth:
    api_keys:
      - key: dup
        name: one
      - key: dup
        name: two
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate api key")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
