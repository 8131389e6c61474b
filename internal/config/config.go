// Package config provides configuration loading, validation, and management
// for the GroupWarden application. It handles reading from YAML files,
// BOT_* environment variables, default values, and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// BotInfo holds the bot's own identity, filled in at startup after the
// Telegram client authenticates.
type BotInfo struct {
	ID        int64
	Username  string
	FirstName string
}

// TelegramConfig holds Telegram connection and identity settings.
type TelegramConfig struct {
	Token       string `mapstructure:"token" validate:"required"`
	AdminUserID int64  `mapstructure:"admin_user_id" validate:"required,gt=0"`

	// AdminChatID is where enforcement evidence is forwarded. Zero disables
	// forwarding.
	AdminChatID int64 `mapstructure:"admin_chat_id"`

	BotInfo BotInfo `mapstructure:"-"`
}

// GeminiConfig holds settings for the Gemini classification client.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key" validate:"required"`
	ModelName         string  `mapstructure:"model_name" validate:"required"`
	Temperature       float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=0,max=300"`

	// VisionEnabled turns posted images into text descriptions before
	// classification.
	VisionEnabled bool `mapstructure:"vision_enabled"`
}

// DetectConfig bounds the batching scheduler.
type DetectConfig struct {
	BatchSize       int           `mapstructure:"batch_size" validate:"min=1,max=100"`
	BatchWait       time.Duration `mapstructure:"batch_wait" validate:"min=1s,max=10m"`
	MaxBatchText    int           `mapstructure:"max_batch_text" validate:"min=100"`
	RateLimit       time.Duration `mapstructure:"rate_limit" validate:"min=0"`
	MaxConcurrent   int64         `mapstructure:"max_concurrent" validate:"min=1,max=64"`
	QueueSize       int           `mapstructure:"queue_size" validate:"min=1"`
	ClassifyTimeout time.Duration `mapstructure:"classify_timeout" validate:"min=1s,max=10m"`
}

// PoolConfig bounds the conversation pool.
type PoolConfig struct {
	Retention time.Duration `mapstructure:"retention" validate:"min=10s,max=24h"`
}

// FlattenConfig bounds message content flattening.
type FlattenConfig struct {
	MaxDepth int `mapstructure:"max_depth" validate:"min=1,max=10"`
	MaxText  int `mapstructure:"max_text" validate:"min=100"`
	MaxMedia int `mapstructure:"max_media" validate:"min=0,max=50"`
}

// EnforceConfig bounds the enforcement sequence.
type EnforceConfig struct {
	MuteDuration   time.Duration `mapstructure:"mute_duration" validate:"min=0"`
	DeleteInterval time.Duration `mapstructure:"delete_interval" validate:"min=0,max=10s"`
	Notice         string        `mapstructure:"notice"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// MessagesConfig holds user-facing bot replies.
type MessagesConfig struct {
	ErrorUnauthorizedMsg string `mapstructure:"not_authorized" validate:"required"`
	ErrorGeneralMsg      string `mapstructure:"general_error" validate:"required"`
	AllowUsageMsg        string `mapstructure:"allow_usage" validate:"required"`
	TestUsageMsg         string `mapstructure:"test_usage" validate:"required"`
}

// ListsConfig holds static chat and sender lists applied at startup. The
// sender allowlist seeds are merged into the persistent allowlist; chat lists
// gate ingestion directly.
type ListsConfig struct {
	// AllowedChats restricts processing to these chats when non-empty.
	AllowedChats []int64 `mapstructure:"allowed_chats"`

	// BlockedChats are never processed, regardless of AllowedChats.
	BlockedChats []int64 `mapstructure:"blocked_chats"`

	// AllowedSenders are seeded into the persistent sender allowlist.
	AllowedSenders []int64 `mapstructure:"allowed_senders"`
}

// TaskConfig configures one scheduled maintenance task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig configures the background maintenance scheduler.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`

	// IncidentRetention is how long enforcement audit records are kept by
	// the prune task.
	IncidentRetention time.Duration `mapstructure:"incident_retention" validate:"min=1h"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// Config defines the application configuration parameters for all components.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Detect    DetectConfig    `mapstructure:"detect"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Flatten   FlattenConfig   `mapstructure:"flatten"`
	Enforce   EnforceConfig   `mapstructure:"enforce"`
	Lists     ListsConfig     `mapstructure:"lists"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// Load reads configuration from config.yaml and BOT_* environment variables,
// applies defaults for optional fields, and validates the result. A missing
// config file is not an error; defaults and environment variables apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 5)
	v.SetDefault("gemini.vision_enabled", false)

	v.SetDefault("detect.batch_size", 10)
	v.SetDefault("detect.batch_wait", 15*time.Second)
	v.SetDefault("detect.max_batch_text", 8000)
	v.SetDefault("detect.rate_limit", 2*time.Second)
	v.SetDefault("detect.max_concurrent", 4)
	v.SetDefault("detect.queue_size", 256)
	v.SetDefault("detect.classify_timeout", time.Minute)

	v.SetDefault("pool.retention", 5*time.Minute)

	v.SetDefault("flatten.max_depth", 3)
	v.SetDefault("flatten.max_text", 4000)
	v.SetDefault("flatten.max_media", 5)

	v.SetDefault("enforce.mute_duration", 24*time.Hour)
	v.SetDefault("enforce.delete_interval", 300*time.Millisecond)
	v.SetDefault("enforce.notice", "Removed {count} spam messages from {name} and muted the sender.")

	v.SetDefault("database.path", "storage.db")

	v.SetDefault("messages.not_authorized", "You are not authorized to use this command.")
	v.SetDefault("messages.general_error", "An error occurred. Please try again later.")
	v.SetDefault("messages.allow_usage", "Usage: /warden_allow <user_id>, or reply to a message with /warden_allow.")
	v.SetDefault("messages.test_usage", "Usage: /warden_test <text>, or reply to a message with /warden_test.")

	v.SetDefault("scheduler.incident_retention", 30*24*time.Hour)
	v.SetDefault("scheduler.tasks.incident_prune.enabled", true)
	v.SetDefault("scheduler.tasks.incident_prune.schedule", "0 0 4 * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 30 4 * * 0")
}
