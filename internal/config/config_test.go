package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCreds(t *testing.T) {
	t.Helper()
	t.Setenv("EX_API_KEY", "test-api-key-12345")
	t.Setenv("EX_SECRET", "test-secret-67890")
	t.Setenv("EX_PASSPHRASE", "test-pass")
	t.Setenv("LLM_BASE_URL", "https://api.deepseek.com")
	t.Setenv("LLM_API_KEY", "sk-test")
}

func TestLoadConfigFromEnvOnly(t *testing.T) {
	setCreds(t)
	t.Setenv("SCHED_AI_INTERVAL_MS", "60000")
	t.Setenv("SCHED_AI_AUTO_EXECUTE", "true")
	t.Setenv("SCHED_REFLECTION_ENABLED", "false")
	t.Setenv("EX_SANDBOX", "true")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "test-api-key-12345", cfg.Exchange.APIKey)
	assert.True(t, cfg.Exchange.Sandbox)
	assert.Equal(t, 60000, cfg.Scheduler.IntervalMs)
	assert.True(t, cfg.Scheduler.AutoExecute)
	assert.False(t, cfg.Reflection.Enabled)
	assert.Equal(t, "gpt-4o-mini", cfg.Oracle.Model)
	assert.Equal(t, "https://api.deepseek.com", cfg.Oracle.BaseURL)
}

func TestLoadConfigDefaults(t *testing.T) {
	setCreds(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 300_000, cfg.Scheduler.IntervalMs)
	assert.Equal(t, 30_000, cfg.Scheduler.InitialDelayMs)
	assert.False(t, cfg.Scheduler.AutoExecute)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 300_000, cfg.Reflection.IntervalMs)
	assert.Equal(t, 60_000, cfg.Reflection.InitialDelayMs)
	assert.Equal(t, 90, cfg.Oracle.TimeoutSeconds)
	assert.Equal(t, "deepseek-chat", cfg.Oracle.Model)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Trading.Symbols)
}

func TestLoadConfigYAMLWithEnvExpansion(t *testing.T) {
	setCreds(t)
	t.Setenv("TEST_DB_PATH", "/tmp/agent-test.db")

	content := `
system:
  log_level: DEBUG
  database_path: ${TEST_DB_PATH}
trading:
  symbols: [BTC, SOL, DOGE]
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
	assert.Equal(t, "/tmp/agent-test.db", cfg.System.DatabasePath)
	assert.Equal(t, []string{"BTC", "SOL", "DOGE"}, cfg.Trading.Symbols)
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	setCreds(t)
	t.Setenv("SCHED_AI_INTERVAL_MS", "120000")

	content := `
scheduler:
  interval_ms: 60000
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 120000, cfg.Scheduler.IntervalMs)
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oracle.BaseURL = "https://api.deepseek.com"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestValidateBadInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "k"
	cfg.Exchange.SecretKey = "s"
	cfg.Exchange.Passphrase = "p"
	cfg.Oracle.BaseURL = "https://api.deepseek.com"
	cfg.Scheduler.IntervalMs = 500

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_ms")
}

func TestValidateBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.System.LogLevel = "VERBOSE"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "super-secret-api-key"
	cfg.Exchange.SecretKey = "another-long-secret"
	cfg.Oracle.APIKey = "sk-proj-abcdef123456"

	out := cfg.String()
	assert.NotContains(t, out, "super-secret-api-key")
	assert.NotContains(t, out, "another-long-secret")
	assert.NotContains(t, out, "sk-proj-abcdef123456")
	assert.True(t, strings.Contains(out, "*"))
}
