package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Amazon    AmazonConfig    `mapstructure:"amazon"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AmazonConfig holds Product Advertising API configuration
type AmazonConfig struct {
	Region            string        `mapstructure:"region"`
	AccessKey         string        `mapstructure:"access_key"`
	SecretKey         string        `mapstructure:"secret_key"`
	AssociateTag      string        `mapstructure:"associate_tag"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RateFloor         float64       `mapstructure:"rate_floor"`
}

// SchedulerConfig holds check-cycle and daily-summary configuration
type SchedulerConfig struct {
	// LiveQueryEnabled selects the check-cycle path; when false the
	// process runs the daily-summary fallback only.
	LiveQueryEnabled      bool          `mapstructure:"live_query_enabled"`
	CheckIntervalHours    int           `mapstructure:"check_interval_hours"`
	DailySummaryHour      int           `mapstructure:"daily_summary_hour"`
	DailySummaryMinute    int           `mapstructure:"daily_summary_minute"`
	Concurrency           int           `mapstructure:"concurrency"`
	AcquireTimeout        time.Duration `mapstructure:"acquire_timeout"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	FailureStaleThreshold int           `mapstructure:"failure_stale_threshold"`
	BackoffBase           time.Duration `mapstructure:"backoff_base"`
	BackoffMaxDelay       time.Duration `mapstructure:"backoff_max_delay"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CheckInterval returns the check-cycle interval as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Scheduler.CheckIntervalHours) * time.Hour
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("PRICEWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Amazon defaults
	v.SetDefault("amazon.region", "IT")
	v.SetDefault("amazon.timeout", "30s")
	v.SetDefault("amazon.requests_per_second", 1.0)
	v.SetDefault("amazon.burst", 1)
	v.SetDefault("amazon.rate_floor", 1.0)

	// Scheduler defaults
	v.SetDefault("scheduler.live_query_enabled", true)
	v.SetDefault("scheduler.check_interval_hours", 6)
	v.SetDefault("scheduler.daily_summary_hour", 9)
	v.SetDefault("scheduler.daily_summary_minute", 0)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.acquire_timeout", "30s")
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.failure_stale_threshold", 5)
	v.SetDefault("scheduler.backoff_base", "1s")
	v.SetDefault("scheduler.backoff_max_delay", "30s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/pricewatch.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Amazon config
	if !validRegions[c.Amazon.Region] {
		return fmt.Errorf("amazon.region %q is not a supported marketplace", c.Amazon.Region)
	}
	if c.Scheduler.LiveQueryEnabled {
		if c.Amazon.AccessKey == "" {
			return fmt.Errorf("amazon.access_key is required when live queries are enabled")
		}
		if c.Amazon.SecretKey == "" {
			return fmt.Errorf("amazon.secret_key is required when live queries are enabled")
		}
		if c.Amazon.AssociateTag == "" {
			return fmt.Errorf("amazon.associate_tag is required when live queries are enabled")
		}
	}
	if c.Amazon.Timeout < time.Second {
		return fmt.Errorf("amazon.timeout must be at least 1 second")
	}
	if c.Amazon.RequestsPerSecond <= 0 {
		return fmt.Errorf("amazon.requests_per_second must be positive")
	}
	if c.Amazon.Burst < 1 {
		return fmt.Errorf("amazon.burst must be at least 1")
	}
	if c.Amazon.RateFloor <= 0 || c.Amazon.RateFloor > c.Amazon.RequestsPerSecond {
		return fmt.Errorf("amazon.rate_floor must be positive and not exceed requests_per_second")
	}

	// Validate Scheduler config
	if c.Scheduler.CheckIntervalHours < 1 {
		return fmt.Errorf("scheduler.check_interval_hours must be at least 1")
	}
	if c.Scheduler.DailySummaryHour < 0 || c.Scheduler.DailySummaryHour > 23 {
		return fmt.Errorf("scheduler.daily_summary_hour must be between 0 and 23")
	}
	if c.Scheduler.DailySummaryMinute < 0 || c.Scheduler.DailySummaryMinute > 59 {
		return fmt.Errorf("scheduler.daily_summary_minute must be between 0 and 59")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be at least 1")
	}
	if c.Scheduler.AcquireTimeout < time.Second {
		return fmt.Errorf("scheduler.acquire_timeout must be at least 1 second")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1")
	}
	if c.Scheduler.FailureStaleThreshold < 1 {
		return fmt.Errorf("scheduler.failure_stale_threshold must be at least 1")
	}
	if c.Scheduler.BackoffBase <= 0 {
		return fmt.Errorf("scheduler.backoff_base must be positive")
	}
	if c.Scheduler.BackoffMaxDelay < c.Scheduler.BackoffBase {
		return fmt.Errorf("scheduler.backoff_max_delay must be at least backoff_base")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
		if c.Telegram.RetryDelayBase <= 0 {
			return fmt.Errorf("telegram.retry_delay_base must be positive")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// validRegions mirrors the marketplaces the pricing client can reach.
var validRegions = map[string]bool{
	"IT": true, "US": true, "UK": true, "DE": true, "FR": true,
	"ES": true, "CA": true, "JP": true, "AU": true,
}
