package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the defense companion.
// It holds settings for logging, the status API, log ingestion, and the
// analysis engine. Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	APIPort  string `mapstructure:"api_port"`

	// BaseDir is the root of all persisted companion state. Pattern,
	// countermeasure and metrics file locations are derived from it unless
	// set explicitly.
	BaseDir string `mapstructure:"base_dir"`

	LogSources []string `mapstructure:"log_sources"`

	Analysis        AnalysisConfig       `mapstructure:"analysis"`
	Patterns        PatternConfig        `mapstructure:"patterns"`
	Countermeasures CountermeasureConfig `mapstructure:"countermeasures"`
	Actions         ActionsConfig        `mapstructure:"actions"`
	Notifications   NotificationConfig   `mapstructure:"notifications"`
}

// AnalysisConfig controls the cadence of the engine loop.
type AnalysisConfig struct {
	Interval     string  `mapstructure:"interval"`
	ErrorBackoff string  `mapstructure:"error_backoff"`
	HighPriority float64 `mapstructure:"high_priority_threshold"`
}

// PatternConfig controls pattern mining and admission.
type PatternConfig struct {
	File                string  `mapstructure:"file"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MinLength           int     `mapstructure:"min_length"`
	MaxLength           int     `mapstructure:"max_length"`
}

// CountermeasureConfig controls the countermeasure lifecycle.
type CountermeasureConfig struct {
	File                   string  `mapstructure:"file"`
	MetricsFile            string  `mapstructure:"metrics_file"`
	TTLSeconds             float64 `mapstructure:"ttl_seconds"`
	MaxRetries             int     `mapstructure:"max_retries"`
	EffectivenessThreshold float64 `mapstructure:"effectiveness_threshold"`
}

// ActionsConfig holds the global configuration for the countermeasure executor.
type ActionsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

// NotificationConfig controls the high-priority threat notification sink.
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Command string `mapstructure:"command"`
	Title   string `mapstructure:"title"`
}

// LoadConfig reads the configuration from a YAML file (config.yaml) and
// environment variables. It uses Viper for robust configuration management,
// allowing for defaults and environment variable overrides with the
// DEFENSE_ prefix.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/defense-companion/")

	// Defaults mirror the constants the analysis engine was tuned with.
	v.SetDefault("log_level", "info")
	v.SetDefault("api_port", "8087")
	v.SetDefault("base_dir", "security_framework")
	v.SetDefault("log_sources", []string{"service_watchdog.log", "logcat_suspicious.log"})

	v.SetDefault("analysis.interval", "300s")
	v.SetDefault("analysis.error_backoff", "60s")
	v.SetDefault("analysis.high_priority_threshold", 0.7)

	v.SetDefault("patterns.similarity_threshold", 0.75)
	v.SetDefault("patterns.min_length", 4)
	v.SetDefault("patterns.max_length", 20)

	v.SetDefault("countermeasures.ttl_seconds", 86400.0) // 24 hours
	v.SetDefault("countermeasures.max_retries", 3)
	v.SetDefault("countermeasures.effectiveness_threshold", 0.5)

	v.SetDefault("actions.enabled", false) // Executor disabled by default
	v.SetDefault("actions.interval", "5s")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.command", "termux-notification")
	v.SetDefault("notifications.title", "Security Alert")

	v.SetEnvPrefix("DEFENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: defaults and environment variables apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.derivePaths()
	return &cfg, nil
}

// derivePaths fills in state file locations that were not set explicitly.
func (c *Config) derivePaths() {
	configDir := filepath.Join(c.BaseDir, "config")

	if c.Patterns.File == "" {
		c.Patterns.File = filepath.Join(configDir, "patterns.json")
	}
	if c.Countermeasures.File == "" {
		c.Countermeasures.File = filepath.Join(configDir, "countermeasures.json")
	}
	if c.Countermeasures.MetricsFile == "" {
		c.Countermeasures.MetricsFile = filepath.Join(configDir, "effectiveness_metrics.json")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.BaseDir, "logs", "companion.log")
	}
}
