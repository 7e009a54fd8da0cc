// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"./data/chat.db"`

	// AdminAPIToken gates the admin console. Admin routes are disabled when empty.
	AdminAPIToken string `env:"ADMIN_API_TOKEN"`

	Assistant       AssistantConfig
	Chat            ChatConfig
	Archive         ArchiveConfig
	ConversationLog ConversationLogConfig
}

// AssistantConfig configures the completion provider.
type AssistantConfig struct {
	APIKey       string `env:"OPENAI_API_KEY"`
	BaseURL      string `env:"OPENAI_BASE_URL"`
	Model        string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	SystemPrompt string `env:"ASSISTANT_SYSTEM_PROMPT" envDefault:"You are the IT Origin website assistant. Answer questions about IT Origin's managed IT, cybersecurity and SOC services concisely and politely. If you do not know an answer, offer to connect the visitor with the team."`
}

// ChatConfig bounds the public chat endpoint.
type ChatConfig struct {
	MaxBodyBytes      int64         `env:"CHAT_MAX_BODY_BYTES" envDefault:"65536"`
	MaxContextTurns   int           `env:"CHAT_MAX_CONTEXT_TURNS" envDefault:"20"`
	RateLimitRequests int           `env:"CHAT_RATE_LIMIT_REQUESTS" envDefault:"20"`
	RateLimitWindow   time.Duration `env:"CHAT_RATE_LIMIT_WINDOW" envDefault:"1m"`
	StreamTimeout     time.Duration `env:"CHAT_STREAM_TIMEOUT" envDefault:"2m"`
}

// ArchiveConfig controls the inactivity sweep. A zero InactiveAfter disables it.
type ArchiveConfig struct {
	InactiveAfter time.Duration `env:"ARCHIVE_INACTIVE_AFTER" envDefault:"0s"`
	SweepInterval time.Duration `env:"ARCHIVE_SWEEP_INTERVAL" envDefault:"1h"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `env:"CONVERSATION_LOG_ENABLED" envDefault:"false"`
	Dir           string `env:"CONVERSATION_LOG_DIR" envDefault:"./data/logs/conversations"`
	GlobalEnabled bool   `env:"CONVERSATION_LOG_GLOBAL_ENABLED" envDefault:"false"`
	GlobalPath    string `env:"CONVERSATION_LOG_GLOBAL_PATH" envDefault:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `env:"CONVERSATION_LOG_QUEUE_SIZE" envDefault:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.AdminAPIToken = strings.TrimSpace(cfg.AdminAPIToken)
	cfg.Assistant.APIKey = strings.TrimSpace(cfg.Assistant.APIKey)
	if cfg.ConversationLog.QueueSize <= 0 {
		cfg.ConversationLog.QueueSize = 1000
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN cannot be empty")
	}
	if c.Chat.MaxBodyBytes <= 0 {
		return fmt.Errorf("CHAT_MAX_BODY_BYTES must be > 0")
	}
	if c.Chat.MaxContextTurns < 0 {
		return fmt.Errorf("CHAT_MAX_CONTEXT_TURNS must be >= 0")
	}
	if c.Chat.RateLimitRequests > 0 && c.Chat.RateLimitWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT_WINDOW must be > 0 when rate limiting is enabled")
	}
	if c.Chat.StreamTimeout <= 0 {
		return fmt.Errorf("CHAT_STREAM_TIMEOUT must be > 0")
	}
	if c.Archive.InactiveAfter < 0 {
		return fmt.Errorf("ARCHIVE_INACTIVE_AFTER must be >= 0")
	}
	if c.Archive.InactiveAfter > 0 && c.Archive.SweepInterval <= 0 {
		return fmt.Errorf("ARCHIVE_SWEEP_INTERVAL must be > 0 when archiving is enabled")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AssistantEnabled reports whether a completion provider is configured.
func (c *Config) AssistantEnabled() bool {
	return c.Assistant.APIKey != ""
}

// AdminEnabled reports whether the admin console should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminAPIToken != ""
}

// CORSOrigins returns the origins allowed to call the API from a browser.
func (c *Config) CORSOrigins() []string {
	var origins []string
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) > 0 {
		return origins
	}
	if c.FrontendURL != "" {
		return []string{strings.TrimRight(c.FrontendURL, "/")}
	}
	return []string{"*"}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
