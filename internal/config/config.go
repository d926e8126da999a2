package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone    = "UTC"
	configPathEnv      = "BLACKSWAN_CONFIG"
	databaseURLEnv     = "DATABASE_URL"
	aiAPIKeyEnv        = "AI_API_KEY"
	aiModelEnv         = "AI_MODEL"
	aiProviderEnv      = "AI_PROVIDER"
	aiEndpointEnv      = "AI_ENDPOINT"
	intervalEnv        = "ANALYSIS_INTERVAL"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	metricsAddressEnv  = "METRICS_ADDRESS"
	fixturesDirEnv     = "FEED_FIXTURES_DIR"
	defaultAIEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o"
	defaultGeminiModel = "gemini-1.5-pro"
)

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Feed modes.
const (
	FeedsPostgres = "postgres"
	FeedsFixtures = "fixtures"
	FeedsNone     = "none"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	AI            AIConfig           `yaml:"ai"`
	Prompt        PromptConfig       `yaml:"prompt"`
	Feeds         FeedsConfig        `yaml:"feeds"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

// DatabaseConfig describes Postgres connection details. An empty URL selects
// the in-memory result store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	EnsureSchema bool   `yaml:"ensureSchema"`
}

// SchedulerConfig defines when cycles run.
type SchedulerConfig struct {
	Interval   time.Duration  `yaml:"interval" validate:"gt=0"`
	RunOnStart bool           `yaml:"runOnStart"`
	Timezone   string         `yaml:"timezone"`
	location   *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// AIConfig defines how to contact the reasoning model.
type AIConfig struct {
	Provider     string        `yaml:"provider" validate:"oneof=openai gemini"`
	Endpoint     string        `yaml:"endpoint" validate:"omitempty,url"`
	Model        string        `yaml:"model" validate:"required"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Temperature  float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int           `yaml:"maxTokens" validate:"gt=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`

	// temperatureSet records an explicit temperature in the file, so 0 is honoured.
	temperatureSet bool
}

// PromptConfig points at an optional template override.
type PromptConfig struct {
	TemplatePath string `yaml:"templatePath"`
}

// FeedsConfig selects where push updates come from.
type FeedsConfig struct {
	Mode             string        `yaml:"mode" validate:"oneof=postgres fixtures none"`
	FixturesDir      string        `yaml:"fixturesDir" validate:"required_if=Mode fixtures"`
	ReconnectBackoff time.Duration `yaml:"reconnectBackoff"`
	HistoryPoll      time.Duration `yaml:"historyPoll"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// MetricsConfig sets the Prometheus listener. Empty disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		fileCfg, err := readFile(path)
		if err != nil {
			slog.Warn("config: falling back to defaults", "path", path, "error", err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDerivedDefaults()
	cfg.bindTimezone()
	return cfg
}

func readFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	var explicit struct {
		AI struct {
			Temperature *float64 `yaml:"temperature"`
		} `yaml:"ai"`
	}
	if err := yaml.Unmarshal(raw, &explicit); err == nil && explicit.AI.Temperature != nil {
		fileCfg.AI.temperatureSet = true
	}
	return fileCfg, nil
}

// Validate checks the settings a running service depends on.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Feeds.Mode == FeedsPostgres && c.Database.URL == "" {
		return errors.New("invalid config: feeds.mode postgres requires database.url")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseURLEnv); v != "" {
		c.Database.URL = v
	}

	if v := os.Getenv(aiAPIKeyEnv); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv(aiModelEnv); v != "" {
		c.AI.Model = v
	}
	if v := os.Getenv(aiProviderEnv); v != "" {
		c.AI.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(aiEndpointEnv); v != "" {
		c.AI.Endpoint = v
	}

	if v := os.Getenv(intervalEnv); v != "" {
		if d, ok := parseInterval(v); ok {
			c.Scheduler.Interval = d
		} else {
			slog.Warn("config: ignoring unparsable interval", "env", intervalEnv, "value", v)
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}

	if v := os.Getenv(metricsAddressEnv); v != "" {
		c.Metrics.Address = v
	}

	if v := os.Getenv(fixturesDirEnv); v != "" {
		c.Feeds.FixturesDir = v
		c.Feeds.Mode = FeedsFixtures
	}
}

// parseInterval accepts Go durations ("30m") or a bare number of minutes.
func parseInterval(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Minute, true
	}
	return 0, false
}

// applyDerivedDefaults fills settings that depend on other settings.
func (c *Config) applyDerivedDefaults() {
	if c.AI.Provider == ProviderGemini && c.AI.Model == defaultOpenAIModel {
		c.AI.Model = defaultGeminiModel
	}
	if c.AI.Provider == ProviderGemini && c.AI.Endpoint == defaultAIEndpoint {
		c.AI.Endpoint = ""
	}
	if c.Feeds.Mode == FeedsPostgres && c.Database.URL == "" {
		if c.Feeds.FixturesDir != "" {
			c.Feeds.Mode = FeedsFixtures
		} else {
			c.Feeds.Mode = FeedsNone
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		slog.Warn("config: unknown timezone, reverting", "timezone", tz, "fallback", defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Database.URL != "" {
		base.Database.URL = override.Database.URL
	}
	if override.Database.EnsureSchema {
		base.Database.EnsureSchema = true
	}

	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.RunOnStart {
		base.Scheduler.RunOnStart = true
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.AI.Provider != "" {
		base.AI.Provider = strings.ToLower(override.AI.Provider)
	}
	if override.AI.Endpoint != "" {
		base.AI.Endpoint = override.AI.Endpoint
	}
	if override.AI.Model != "" {
		base.AI.Model = override.AI.Model
	}
	if override.AI.APIKey != "" {
		base.AI.APIKey = override.AI.APIKey
	}
	if override.AI.SystemPrompt != "" {
		base.AI.SystemPrompt = override.AI.SystemPrompt
	}
	if override.AI.temperatureSet || override.AI.Temperature > 0 {
		base.AI.Temperature = override.AI.Temperature
	}
	if override.AI.MaxTokens > 0 {
		base.AI.MaxTokens = override.AI.MaxTokens
	}
	if override.AI.Timeout > 0 {
		base.AI.Timeout = override.AI.Timeout
	}

	if override.Prompt.TemplatePath != "" {
		base.Prompt.TemplatePath = override.Prompt.TemplatePath
	}

	if override.Feeds.Mode != "" {
		base.Feeds.Mode = strings.ToLower(override.Feeds.Mode)
	}
	if override.Feeds.FixturesDir != "" {
		base.Feeds.FixturesDir = override.Feeds.FixturesDir
	}
	if override.Feeds.ReconnectBackoff > 0 {
		base.Feeds.ReconnectBackoff = override.Feeds.ReconnectBackoff
	}
	if override.Feeds.HistoryPoll > 0 {
		base.Feeds.HistoryPoll = override.Feeds.HistoryPoll
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = strings.ToLower(override.Logging.Level)
	}
	if override.Logging.Format != "" {
		base.Logging.Format = strings.ToLower(override.Logging.Format)
	}

	if override.Metrics.Address != "" {
		base.Metrics.Address = override.Metrics.Address
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Scheduler: SchedulerConfig{
			Interval:   time.Hour,
			RunOnStart: false,
			Timezone:   defaultTimezone,
			location:   tz,
		},
		AI: AIConfig{
			Provider:     ProviderOpenAI,
			Endpoint:     defaultAIEndpoint,
			Model:        defaultOpenAIModel,
			SystemPrompt: "You are a quantitative risk analyst. Respond only with the requested JSON.",
			Temperature:  0.3,
			MaxTokens:    2000,
			Timeout:      2 * time.Minute,
		},
		Feeds: FeedsConfig{
			Mode:             FeedsPostgres,
			ReconnectBackoff: 2 * time.Second,
			HistoryPoll:      30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Address: ":9090"},
	}
}
