package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		configPathEnv, databaseURLEnv, aiAPIKeyEnv, aiModelEnv, aiProviderEnv, aiEndpointEnv,
		intervalEnv, telegramTokenEnv, telegramChatIDEnv, logLevelEnv, logFormatEnv,
		metricsAddressEnv, fixturesDirEnv,
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.Equal(t, 2*time.Minute, cfg.AI.Timeout)
	assert.Equal(t, FeedsNone, cfg.Feeds.Mode, "no database falls back to no feeds")
	assert.Equal(t, "UTC", cfg.Scheduler.Location().String())
	require.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "blackswan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://file/db
scheduler:
  interval: 30m
  runOnStart: true
ai:
  model: file-model
  maxTokens: 1500
  timeout: 90s
logging:
  format: JSON
`), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv(aiModelEnv, "env-model")
	t.Setenv(aiAPIKeyEnv, "sk-test")

	cfg := Load()
	assert.Equal(t, "postgres://file/db", cfg.Database.URL)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.RunOnStart)
	assert.Equal(t, "env-model", cfg.AI.Model)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
	assert.Equal(t, 1500, cfg.AI.MaxTokens)
	assert.Equal(t, 90*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 0.3, cfg.AI.Temperature)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, FeedsPostgres, cfg.Feeds.Mode)
	require.NoError(t, cfg.Validate())
}

func TestFileTemperatureZeroIsKept(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "blackswan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ai:\n  temperature: 0\n"), 0o600))
	t.Setenv(configPathEnv, path)

	cfg := Load()
	assert.Zero(t, cfg.AI.Temperature)
	require.NoError(t, cfg.Validate())
}

func TestUnreadableFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := Load()
	assert.Equal(t, defaultOpenAIModel, cfg.AI.Model)
}

func TestIntervalEnv(t *testing.T) {
	clearEnv(t)

	t.Setenv(intervalEnv, "15")
	assert.Equal(t, 15*time.Minute, Load().Scheduler.Interval)

	t.Setenv(intervalEnv, "2h")
	assert.Equal(t, 2*time.Hour, Load().Scheduler.Interval)

	t.Setenv(intervalEnv, "soon")
	assert.Equal(t, time.Hour, Load().Scheduler.Interval)
}

func TestGeminiProviderSwapsDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(aiProviderEnv, "Gemini")

	cfg := Load()
	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.Equal(t, defaultGeminiModel, cfg.AI.Model)
	assert.Empty(t, cfg.AI.Endpoint)
}

func TestFixturesDirEnvSelectsFixtureFeeds(t *testing.T) {
	clearEnv(t)
	t.Setenv(fixturesDirEnv, "/tmp/fixtures")

	cfg := Load()
	assert.Equal(t, FeedsFixtures, cfg.Feeds.Mode)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	cfg.AI.Provider = "mystery"
	assert.ErrorContains(t, cfg.Validate(), "Provider")

	cfg = Load()
	cfg.Logging.Level = "loud"
	assert.ErrorContains(t, cfg.Validate(), "Level")

	cfg = Load()
	cfg.Feeds.Mode = FeedsPostgres
	assert.ErrorContains(t, cfg.Validate(), "database.url")

	cfg = Load()
	cfg.Feeds.Mode = FeedsFixtures
	cfg.Feeds.FixturesDir = ""
	assert.ErrorContains(t, cfg.Validate(), "FixturesDir")

	assert.True(t, TelegramConfig{BotToken: "t", ChatID: "c"}.Enabled())
	assert.False(t, TelegramConfig{BotToken: "t"}.Enabled())
}
