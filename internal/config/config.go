package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"fichua-bot/internal/llm"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port          string `yaml:"port"`
		WebhookSecret string `yaml:"webhook_secret"` // HS256 key; empty disables webhook auth
	} `yaml:"server"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	// Multiple providers configuration
	Providers []llm.ProviderConfig `yaml:"providers"`

	// Legacy single provider config (fallback)
	Gemini struct {
		APIKey     string `yaml:"api_key"`
		ModelName  string `yaml:"model_name"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"gemini"`

	Database struct {
		Path string `yaml:"path"` // SQLite path or PostgreSQL URL
		Type string `yaml:"type"` // "sqlite", "postgres" or "memory"
	} `yaml:"database"`

	Twitter struct {
		BaseURL     string `yaml:"base_url"`
		BearerToken string `yaml:"bearer_token"` // app token, used for search and lookups
		UserToken   string `yaml:"user_token"`   // user-context token, used for /users/me and replies
	} `yaml:"twitter"`

	Bot struct {
		Username string `yaml:"username"` // overrides the handle reported by the platform
	} `yaml:"bot"`

	Poller struct {
		Enabled     bool          `yaml:"enabled"`
		SearchQuery string        `yaml:"search_query"`
		MinInterval time.Duration `yaml:"min_interval"`
		MaxInterval time.Duration `yaml:"max_interval"`
		MaxResults  int           `yaml:"max_results"`
	} `yaml:"poller"`

	Fetcher struct {
		Mode          string `yaml:"mode"` // "http" or "browser"
		NitterBaseURL string `yaml:"nitter_base_url"`
		Limit         int    `yaml:"limit"`
		Headless      bool   `yaml:"headless"`
	} `yaml:"fetcher"`

	Analysis struct {
		MaxLength int `yaml:"max_length"`
	} `yaml:"analysis"`

	Reply struct {
		MaxLength int `yaml:"max_length"`
	} `yaml:"reply"`

	Typefully struct {
		Enabled bool   `yaml:"enabled"`
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"typefully"`

	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	MaxFailuresBeforeSwitch int `yaml:"max_failures_before_switch"`
}

// LoadConfig loads configuration from YAML file. Variables from a .env file in
// the working directory are loaded first so ${VAR} references can use them.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := &Config{}
	config.Poller.Enabled = true
	config.Fetcher.Headless = true

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	config.expandEnv()

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "5000"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Gemini.ModelName == "" {
		c.Gemini.ModelName = "gemini-2.0-flash"
	}

	if c.Gemini.MaxRetries == 0 {
		c.Gemini.MaxRetries = 3
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}

	if c.Database.Path == "" && c.Database.Type == "sqlite" {
		c.Database.Path = "./data/dedupe.db"
	}

	if c.Twitter.BaseURL == "" {
		c.Twitter.BaseURL = "https://api.twitter.com"
	}

	if c.Poller.MinInterval == 0 {
		c.Poller.MinInterval = 70 * time.Second
	}

	if c.Poller.MaxInterval == 0 {
		c.Poller.MaxInterval = 130 * time.Second
	}

	if c.Poller.MaxResults == 0 {
		c.Poller.MaxResults = 20
	}

	if c.Fetcher.Mode == "" {
		c.Fetcher.Mode = "http"
	}

	if c.Fetcher.NitterBaseURL == "" {
		c.Fetcher.NitterBaseURL = "https://nitter.net"
	}

	if c.Fetcher.Limit == 0 {
		c.Fetcher.Limit = 15
	}

	if c.Analysis.MaxLength == 0 {
		c.Analysis.MaxLength = 260
	}

	if c.Reply.MaxLength == 0 {
		c.Reply.MaxLength = 279
	}

	if c.Typefully.BaseURL == "" {
		c.Typefully.BaseURL = "https://api.typefully.com"
	}

	if c.MaxFailuresBeforeSwitch == 0 {
		c.MaxFailuresBeforeSwitch = 3
	}
}

// expandEnv resolves ${VAR} references in secret fields
func (c *Config) expandEnv() {
	for i := range c.Providers {
		c.Providers[i].APIKey = os.ExpandEnv(c.Providers[i].APIKey)
	}
	c.Gemini.APIKey = os.ExpandEnv(c.Gemini.APIKey)
	c.Database.Path = os.ExpandEnv(c.Database.Path)
	c.Server.WebhookSecret = os.ExpandEnv(c.Server.WebhookSecret)
	c.Twitter.BearerToken = os.ExpandEnv(c.Twitter.BearerToken)
	c.Twitter.UserToken = os.ExpandEnv(c.Twitter.UserToken)
	c.Typefully.APIKey = os.ExpandEnv(c.Typefully.APIKey)
	c.Telegram.BotToken = os.ExpandEnv(c.Telegram.BotToken)
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for %s", c.Database.Type)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.type %q", c.Database.Type)
	}

	switch c.Fetcher.Mode {
	case "http", "browser":
	default:
		return fmt.Errorf("unknown fetcher.mode %q", c.Fetcher.Mode)
	}

	if c.Poller.MinInterval > c.Poller.MaxInterval {
		return fmt.Errorf("poller.min_interval (%s) exceeds poller.max_interval (%s)",
			c.Poller.MinInterval, c.Poller.MaxInterval)
	}

	if c.Poller.Enabled && c.Twitter.UserToken == "" {
		return fmt.Errorf("twitter.user_token is required when the poller is enabled")
	}

	if c.Typefully.Enabled && c.Typefully.APIKey == "" {
		return fmt.Errorf("typefully.api_key is required when typefully is enabled")
	}

	if c.Analysis.MaxLength < 2 {
		return fmt.Errorf("analysis.max_length must be at least 2")
	}

	return nil
}
