package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the socialpilot system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executors ExecutorsConfig `mapstructure:"executors"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Accounts  []AccountConfig `mapstructure:"accounts"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains reasoning-backend provider configurations
type LLMConfig struct {
	Providers        map[string]LLMProvider `mapstructure:"providers"`
	PreferenceOrder  []string               `mapstructure:"preference_order"`
	DefaultMaxTokens int                    `mapstructure:"default_max_tokens"`
}

// LLMProvider represents a single reasoning-backend provider configuration
type LLMProvider struct {
	Type        string        `mapstructure:"type"` // openai, anthropic
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig contains execution-cycle settings
type SchedulerConfig struct {
	CycleInterval         time.Duration `mapstructure:"cycle_interval"`
	MaxConcurrentAccounts int           `mapstructure:"max_concurrent_accounts"`
}

// ExecutorsConfig contains task-executor settings
type ExecutorsConfig struct {
	TaskTimeout         time.Duration `mapstructure:"task_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	MaxTasksPerCycle    int           `mapstructure:"max_tasks_per_cycle"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
}

// StorageConfig contains memory-store settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
	File  FileConfig  `mapstructure:"file"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// FileConfig contains file storage settings
type FileConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// AccountConfig describes one managed social account. It is read-only input
// for the core: identity, strategy parameters, and an optional cron gate.
type AccountConfig struct {
	AccountID          string   `mapstructure:"account_id" json:"account_id"`
	Username           string   `mapstructure:"username" json:"username"`
	DisplayName        string   `mapstructure:"display_name" json:"display_name"`
	TargetKeywords     []string `mapstructure:"target_keywords" json:"target_keywords"`
	CompetitorProfiles []string `mapstructure:"competitor_profiles" json:"competitor_profiles"`
	PersonalityPrompt  string   `mapstructure:"personality_prompt" json:"personality_prompt"`
	ScheduleCron       string   `mapstructure:"schedule_cron" json:"schedule_cron,omitempty"`
	IsActive           bool     `mapstructure:"is_active" json:"is_active"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("socialpilot")
	viper.SetConfigType("json")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("SOCIALPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional; defaults plus env are enough to start.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("llm.preference_order", []string{"openai", "anthropic"})
	viper.SetDefault("llm.default_max_tokens", 800)

	viper.SetDefault("scheduler.cycle_interval", "15m")
	viper.SetDefault("scheduler.max_concurrent_accounts", 3)

	viper.SetDefault("executors.task_timeout", "2m")
	viper.SetDefault("executors.max_retries", 3)
	viper.SetDefault("executors.max_tasks_per_cycle", 3)
	viper.SetDefault("executors.confidence_threshold", 0.7)

	viper.SetDefault("storage.redis.host", "")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")
	viper.SetDefault("storage.file.data_dir", "agent_memory")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
}

// overrideFromEnv maps well-known credential environment variables onto
// provider entries so keys never have to live in the config file.
func overrideFromEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		viper.Set("llm.providers.openai.api_key", v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		viper.Set("llm.providers.anthropic.api_key", v)
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		viper.Set("storage.redis.host", v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		viper.Set("storage.redis.password", v)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Scheduler.CycleInterval <= 0 {
		return fmt.Errorf("scheduler.cycle_interval must be positive")
	}
	if config.Scheduler.MaxConcurrentAccounts <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_accounts must be positive")
	}
	if config.Executors.MaxRetries < 0 {
		return fmt.Errorf("executors.max_retries must not be negative")
	}
	for name, p := range config.LLM.Providers {
		switch p.Type {
		case "", "openai", "anthropic":
		default:
			return fmt.Errorf("llm.providers.%s.type %q is not supported", name, p.Type)
		}
	}
	seen := make(map[string]bool, len(config.Accounts))
	for _, acc := range config.Accounts {
		if acc.AccountID == "" {
			return fmt.Errorf("accounts entries must set account_id")
		}
		if seen[acc.AccountID] {
			return fmt.Errorf("duplicate account_id %q", acc.AccountID)
		}
		seen[acc.AccountID] = true
	}
	return nil
}

// ActiveAccounts returns the configured accounts flagged active.
func (c *Config) ActiveAccounts() []AccountConfig {
	out := make([]AccountConfig, 0, len(c.Accounts))
	for _, acc := range c.Accounts {
		if acc.IsActive {
			out = append(out, acc)
		}
	}
	return out
}

// Account looks up a configured account by id.
func (c *Config) Account(accountID string) (AccountConfig, bool) {
	for _, acc := range c.Accounts {
		if acc.AccountID == accountID {
			return acc, true
		}
	}
	return AccountConfig{}, false
}
