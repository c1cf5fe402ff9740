package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/greekwatch/internal/inventory"
)

// Config represents the complete application configuration
type Config struct {
	Feed       FeedConfig       `mapstructure:"feed"`
	Underlying UnderlyingConfig `mapstructure:"underlying"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Inventory  InventoryConfig  `mapstructure:"inventory"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Export     ExportConfig     `mapstructure:"export"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// FeedConfig holds snapshot gateway configuration
type FeedConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	BreakerFailures     uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout      time.Duration `mapstructure:"breaker_timeout"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// UnderlyingConfig names the tracked underlying
type UnderlyingConfig struct {
	Symbol string `mapstructure:"symbol"`
}

// AlertsConfig holds alert thresholds. Gamma and theta checks are off when unset.
type AlertsConfig struct {
	LowThreshold   float64   `mapstructure:"low_threshold"`
	HighThreshold  float64   `mapstructure:"high_threshold"`
	DeltaThreshold float64   `mapstructure:"delta_threshold"`
	GammaThreshold *float64  `mapstructure:"gamma_threshold"`
	ThetaThreshold *float64  `mapstructure:"theta_threshold"`
	WatchedStrikes []float64 `mapstructure:"watched_strikes"`
}

// MonitorConfig holds rolling-statistics configuration
type MonitorConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// InventoryConfig points at the optional positions file
type InventoryConfig struct {
	File string `mapstructure:"file"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
}

// StorageConfig holds SQLite persistence configuration
type StorageConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	MaxSnapshots int    `mapstructure:"max_snapshots"`
}

// ExportConfig holds the CSV snapshot log path; empty disables export.
type ExportConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// KafkaConfig holds Kafka publication configuration
type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	AlertsTopic    string   `mapstructure:"alerts_topic"`
	SnapshotsTopic string   `mapstructure:"snapshots_topic"`
	Compression    string   `mapstructure:"compression"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Environment variables use the GREEKWATCH_ prefix, e.g. GREEKWATCH_FEED_BASE_URL.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("GREEKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// No defaults, so AutomaticEnv alone would never see these keys.
	_ = v.BindEnv("alerts.gamma_threshold")
	_ = v.BindEnv("alerts.theta_threshold")
	_ = v.BindEnv("telegram.bot_token")
	_ = v.BindEnv("telegram.chat_id")

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
	v.SetDefault("feed.base_url", "http://127.0.0.1:8080")
	v.SetDefault("feed.poll_interval", "15s")
	v.SetDefault("feed.timeout", "10s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")
	v.SetDefault("feed.breaker_failures", 5)
	v.SetDefault("feed.breaker_timeout", "1m")
	v.SetDefault("feed.max_idle_conns", 10)
	v.SetDefault("feed.max_idle_conns_per_host", 5)
	v.SetDefault("feed.idle_conn_timeout", "90s")

	v.SetDefault("underlying.symbol", "SPX")

	v.SetDefault("alerts.low_threshold", 4500.0)
	v.SetDefault("alerts.high_threshold", 5500.0)
	v.SetDefault("alerts.delta_threshold", 0.5)
	v.SetDefault("alerts.watched_strikes", []float64{5100, 5200, 5300})

	v.SetDefault("monitor.history_size", 50)

	v.SetDefault("inventory.file", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.rate_per_second", 1.0)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/greekwatch.db")
	v.SetDefault("storage.max_snapshots", 100000)

	v.SetDefault("export.csv_path", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.alerts_topic", "greekwatch.alerts")
	v.SetDefault("kafka.snapshots_topic", "")
	v.SetDefault("kafka.compression", "gzip")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	if c.Feed.PollInterval < time.Second {
		return fmt.Errorf("feed.poll_interval must be at least 1 second")
	}
	if c.Feed.MaxRetries < 1 {
		return fmt.Errorf("feed.max_retries must be at least 1")
	}

	if c.Underlying.Symbol == "" {
		return fmt.Errorf("underlying.symbol is required")
	}

	if c.Alerts.LowThreshold >= c.Alerts.HighThreshold {
		return fmt.Errorf("alerts.low_threshold must be below alerts.high_threshold")
	}
	for _, s := range c.Alerts.WatchedStrikes {
		if s <= 0 {
			return fmt.Errorf("alerts.watched_strikes must be positive, got %v", s)
		}
	}

	if c.Monitor.HistorySize < 5 {
		return fmt.Errorf("monitor.history_size must be at least 5")
	}

	if c.Inventory.File != "" {
		if err := inventory.CheckExtension(c.Inventory.File); err != nil {
			return fmt.Errorf("inventory.file: %w", err)
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.Enabled {
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required when storage is enabled")
		}
		if c.Storage.MaxSnapshots < 1 {
			return fmt.Errorf("storage.max_snapshots must be at least 1")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.AlertsTopic == "" && c.Kafka.SnapshotsTopic == "" {
			return fmt.Errorf("kafka.alerts_topic or kafka.snapshots_topic is required when kafka is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

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
