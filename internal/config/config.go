package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/mtvedt/qalyboot/internal/fit"
)

// Config represents the complete application configuration
type Config struct {
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Fit       FitConfig       `mapstructure:"fit"`
	QALY      QALYConfig      `mapstructure:"qaly"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// DatasetConfig locates the input panel
type DatasetConfig struct {
	Path     string `mapstructure:"path"`
	Manifest string `mapstructure:"manifest"`
}

// BootstrapConfig holds the resampling parameters
type BootstrapConfig struct {
	Replicates  int   `mapstructure:"replicates"`
	DrawSize    int   `mapstructure:"draw_size"`
	Seed        int64 `mapstructure:"seed"`
	MinRetained int   `mapstructure:"min_retained"`
	Workers     int   `mapstructure:"workers"`
}

// FitConfig selects and parameterises the model fit adapter
type FitConfig struct {
	Adapter string `mapstructure:"adapter"`
	Formula string `mapstructure:"formula"`
}

// QALYConfig holds the QALY computation parameters
type QALYConfig struct {
	BaselineSurvey int `mapstructure:"baseline_survey"`
}

// StorageConfig holds run-history persistence configuration
type StorageConfig struct {
	MaxRuns  int    `mapstructure:"max_runs"`
	FilePath string `mapstructure:"file_path"`
}

// ArchiveConfig holds the optional per-replicate draw archive configuration
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("QALYBOOT")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Bootstrap defaults
	v.SetDefault("bootstrap.replicates", 1000)
	v.SetDefault("bootstrap.draw_size", 0) // 0 draws one cluster per source respondent
	v.SetDefault("bootstrap.seed", 1)
	v.SetDefault("bootstrap.min_retained", 30)
	v.SetDefault("bootstrap.workers", 0) // 0 sizes the pool by CPU count

	// Fit defaults
	v.SetDefault("fit.adapter", "gls")
	v.SetDefault("fit.formula", fit.DefaultFormula)

	// QALY defaults
	v.SetDefault("qaly.baseline_survey", 1)

	// Storage defaults
	v.SetDefault("storage.max_runs", 100)
	v.SetDefault("storage.file_path", "./data/runs.json")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "./data/archive.db")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Dataset config
	if c.Dataset.Path == "" {
		return fmt.Errorf("dataset.path is required")
	}

	// Validate Bootstrap config
	if c.Bootstrap.Replicates < 1 {
		return fmt.Errorf("bootstrap.replicates must be at least 1")
	}
	if c.Bootstrap.DrawSize < 0 {
		return fmt.Errorf("bootstrap.draw_size must not be negative")
	}
	if c.Bootstrap.MinRetained < 1 {
		return fmt.Errorf("bootstrap.min_retained must be at least 1")
	}
	if c.Bootstrap.MinRetained > c.Bootstrap.Replicates {
		return fmt.Errorf("bootstrap.min_retained must not exceed bootstrap.replicates")
	}
	if c.Bootstrap.Workers < 0 {
		return fmt.Errorf("bootstrap.workers must not be negative")
	}

	// Validate Fit config
	if c.Fit.Adapter != "ols" && c.Fit.Adapter != "gls" {
		return fmt.Errorf("fit.adapter must be one of: ols, gls")
	}
	if c.Fit.Formula == "" {
		return fmt.Errorf("fit.formula is required")
	}

	// Validate QALY config
	if c.QALY.BaselineSurvey < 1 {
		return fmt.Errorf("qaly.baseline_survey must be a positive survey id")
	}

	// Validate Storage config
	if c.Storage.MaxRuns < 1 {
		return fmt.Errorf("storage.max_runs must be at least 1")
	}
	if c.Storage.FilePath == "" {
		return fmt.Errorf("storage.file_path is required")
	}

	// Validate Archive config
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when the archive is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
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
