package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM         LLMConfig
	Telegram    TelegramConfig
	Server      ServerConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Context     ContextConfig
	Maintenance MaintenanceConfig
	Log         LogConfig
}

// LLMConfig holds the completion backend configuration
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	DefaultModel string        `mapstructure:"default_model"`
	Temperature  float32       `mapstructure:"temperature"`
	SystemPrompt string        `mapstructure:"system_prompt"` // overrides the standard persona text
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds the bot configuration
type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	APIEndpoint string `mapstructure:"api_endpoint"`
	WebhookPath string `mapstructure:"webhook_path"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres or memory
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables the preference cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ContextConfig tunes prompt assembly.
type ContextConfig struct {
	HistoryLimit int    `mapstructure:"history_limit"`
	CharBudget   int    `mapstructure:"char_budget"`
	PersonaRole  string `mapstructure:"persona_role"`
}

// MaintenanceConfig drives the inactivity sweep.
type MaintenanceConfig struct {
	CronSecret    string        `mapstructure:"cron_secret"`
	InactiveAfter time.Duration `mapstructure:"inactive_after"`
	NotifyDelay   time.Duration `mapstructure:"notify_delay"`
	Interval      time.Duration `mapstructure:"interval"` // > 0 also runs the sweep in-process
}

// LogConfig holds logging options
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ListenAddr returns host:port for the HTTP server.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.default_model", "google/gemma-3-27b-it:free")
	v.SetDefault("llm.temperature", 0.6)
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.timeout", "90s")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.webhook_path", "/api/webhook")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "3000")

	v.SetDefault("storage.driver", "") // inferred from the DSN, see inferDriver
	v.SetDefault("storage.dsn", "history.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1h")

	v.SetDefault("context.history_limit", 30)
	v.SetDefault("context.char_budget", 9999)
	v.SetDefault("context.persona_role", "user")

	v.SetDefault("maintenance.cron_secret", "")
	v.SetDefault("maintenance.inactive_after", "120h")
	v.SetDefault("maintenance.notify_delay", "50ms")
	v.SetDefault("maintenance.interval", "0s")

	v.SetDefault("log.level", "info")
}

// Env names of earlier deployments, so existing .env files keep working.
var legacyEnv = map[string][]string{
	"llm.api_key":             {"OPENROUTER_API_KEY"},
	"llm.system_prompt":       {"SYSTEM_PROMPT"},
	"telegram.token":          {"TELEGRAM_TOKEN"},
	"server.port":             {"PORT"},
	"storage.dsn":             {"SUPABASE_CONNECTION_STRING"},
	"maintenance.cron_secret": {"CRON_SECRET"},
}

// Load reads .env, then config.yaml (or the file named by CONFIG_PATH), then
// environment overrides such as LLM_API_KEY or TELEGRAM_TOKEN.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if config.Storage.Driver == "" {
		config.Storage.Driver = inferDriver(config.Storage.DSN)
	}

	return &config, nil
}

// inferDriver picks postgres for connection URLs such as the ones Supabase
// hands out, and sqlite for anything else.
func inferDriver(dsn string) string {
	if isPostgresURL(dsn) {
		return "postgres"
	}
	return "sqlite"
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Validate checks that required values are set and enumerations are known.
func (c *Config) Validate() error {
	var problems []string

	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is required")
	}
	if c.Telegram.Token == "" {
		problems = append(problems, "telegram.token is required")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required for "+c.Storage.Driver)
		}
		if c.Storage.Driver == "sqlite" && strings.Contains(c.Storage.DSN, "://") {
			problems = append(problems, "storage.dsn looks like a connection URL, not a sqlite file path")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not one of sqlite, postgres, memory", c.Storage.Driver))
	}
	if c.Context.PersonaRole != "user" && c.Context.PersonaRole != "system" {
		problems = append(problems, fmt.Sprintf("context.persona_role %q must be user or system", c.Context.PersonaRole))
	}
	if c.Context.HistoryLimit <= 0 {
		problems = append(problems, "context.history_limit must be positive")
	}
	if c.Context.CharBudget <= 0 {
		problems = append(problems, "context.char_budget must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
