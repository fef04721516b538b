package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Daily     DailyConfig     `mapstructure:"daily"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ExchangesConfig holds exchange API configuration
type ExchangesConfig struct {
	MEXCFuturesAPIURL   string        `mapstructure:"mexc_futures_api_url"`
	MEXCContractAPIURL  string        `mapstructure:"mexc_contract_api_url"`
	GateAPIURL          string        `mapstructure:"gate_api_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	FetchWorkers        int           `mapstructure:"fetch_workers"`
	CoverageRawTTL      time.Duration `mapstructure:"coverage_raw_ttl"`
	CoverageVerifiedTTL time.Duration `mapstructure:"coverage_verified_ttl"`
}

// MonitorConfig holds spread detection behavior configuration
type MonitorConfig struct {
	Threshold           float64       `mapstructure:"threshold"`
	ConfirmDelay        time.Duration `mapstructure:"confirm_delay"`
	MinEventDuration    time.Duration `mapstructure:"min_event_duration"`
	MaxActiveAge        time.Duration `mapstructure:"max_active_age"`
	MaxPriceFailures    int           `mapstructure:"max_price_failures"`
	NewSymbolGrace      time.Duration `mapstructure:"new_symbol_grace"`
	NewSymbolQuota      int           `mapstructure:"new_symbol_quota"`
	NewSymbolWindow     time.Duration `mapstructure:"new_symbol_window"`
	NotifyMinInterval   time.Duration `mapstructure:"notify_min_interval"`
	StaleIdle           time.Duration `mapstructure:"stale_idle"`
	DuplicateSweepEvery time.Duration `mapstructure:"duplicate_sweep_every"`
	StaleSweepEvery     time.Duration `mapstructure:"stale_sweep_every"`
	FastInterval        time.Duration `mapstructure:"fast_interval"`
	SlowInterval        time.Duration `mapstructure:"slow_interval"`
}

// DailyConfig holds daily summary configuration
type DailyConfig struct {
	UTCOffsetHours  int           `mapstructure:"utc_offset_hours"`
	MergeGap        time.Duration `mapstructure:"merge_gap"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	PinSweepEvery   time.Duration `mapstructure:"pin_sweep_every"`
	MaxPins         int           `mapstructure:"max_pins"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MessageDelay   time.Duration `mapstructure:"message_delay"`
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

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("SPREADWATCH")
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
	// Exchange defaults
	v.SetDefault("exchanges.mexc_futures_api_url", "https://futures.mexc.com")
	v.SetDefault("exchanges.mexc_contract_api_url", "https://contract.mexc.com")
	v.SetDefault("exchanges.gate_api_url", "https://api.gateio.ws")
	v.SetDefault("exchanges.timeout", "10s")
	v.SetDefault("exchanges.fetch_workers", 20)
	v.SetDefault("exchanges.coverage_raw_ttl", "12h")
	v.SetDefault("exchanges.coverage_verified_ttl", "6h")

	// Monitor defaults
	v.SetDefault("monitor.threshold", 3.0)
	v.SetDefault("monitor.confirm_delay", "5s")
	v.SetDefault("monitor.min_event_duration", "60s")
	v.SetDefault("monitor.max_active_age", "4h")
	v.SetDefault("monitor.max_price_failures", 3)
	v.SetDefault("monitor.new_symbol_grace", "24h")
	v.SetDefault("monitor.new_symbol_quota", 3)
	v.SetDefault("monitor.new_symbol_window", "24h")
	v.SetDefault("monitor.notify_min_interval", "3s")
	v.SetDefault("monitor.stale_idle", "2m")
	v.SetDefault("monitor.duplicate_sweep_every", "30s")
	v.SetDefault("monitor.stale_sweep_every", "5m")
	v.SetDefault("monitor.fast_interval", "3s")
	v.SetDefault("monitor.slow_interval", "15s")

	// Daily summary defaults
	v.SetDefault("daily.utc_offset_hours", 3)
	v.SetDefault("daily.merge_gap", "3m")
	v.SetDefault("daily.refresh_interval", "1m")
	v.SetDefault("daily.pin_sweep_every", "15m")
	v.SetDefault("daily.max_pins", 30)

	// Telegram defaults
	v.SetDefault("telegram.message_delay", "1s")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/spreadwatch.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Exchanges.MEXCFuturesAPIURL == "" {
		return fmt.Errorf("exchanges.mexc_futures_api_url is required")
	}
	if c.Exchanges.MEXCContractAPIURL == "" {
		return fmt.Errorf("exchanges.mexc_contract_api_url is required")
	}
	if c.Exchanges.GateAPIURL == "" {
		return fmt.Errorf("exchanges.gate_api_url is required")
	}
	if c.Exchanges.Timeout < time.Second {
		return fmt.Errorf("exchanges.timeout must be at least 1 second")
	}
	if c.Exchanges.FetchWorkers < 1 {
		return fmt.Errorf("exchanges.fetch_workers must be at least 1")
	}
	if c.Exchanges.CoverageRawTTL < time.Minute {
		return fmt.Errorf("exchanges.coverage_raw_ttl must be at least 1 minute")
	}
	if c.Exchanges.CoverageVerifiedTTL < time.Minute {
		return fmt.Errorf("exchanges.coverage_verified_ttl must be at least 1 minute")
	}

	if c.Monitor.Threshold <= 0 {
		return fmt.Errorf("monitor.threshold must be positive")
	}
	if c.Monitor.ConfirmDelay < time.Second {
		return fmt.Errorf("monitor.confirm_delay must be at least 1 second")
	}
	if c.Monitor.MinEventDuration < time.Second {
		return fmt.Errorf("monitor.min_event_duration must be at least 1 second")
	}
	if c.Monitor.MaxActiveAge < time.Minute {
		return fmt.Errorf("monitor.max_active_age must be at least 1 minute")
	}
	if c.Monitor.MaxPriceFailures < 1 {
		return fmt.Errorf("monitor.max_price_failures must be at least 1")
	}
	if c.Monitor.NewSymbolQuota < 0 {
		return fmt.Errorf("monitor.new_symbol_quota must not be negative")
	}
	if c.Monitor.FastInterval < time.Second {
		return fmt.Errorf("monitor.fast_interval must be at least 1 second")
	}
	if c.Monitor.SlowInterval < c.Monitor.FastInterval {
		return fmt.Errorf("monitor.slow_interval must not be shorter than monitor.fast_interval")
	}

	if c.Daily.UTCOffsetHours < -12 || c.Daily.UTCOffsetHours > 14 {
		return fmt.Errorf("daily.utc_offset_hours must be between -12 and 14")
	}
	if c.Daily.MergeGap < 0 {
		return fmt.Errorf("daily.merge_gap must not be negative")
	}
	if c.Daily.RefreshInterval < time.Second {
		return fmt.Errorf("daily.refresh_interval must be at least 1 second")
	}
	if c.Daily.MaxPins < 1 {
		return fmt.Errorf("daily.max_pins must be at least 1")
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required")
	}
	if c.Telegram.MaxRetries < 1 {
		return fmt.Errorf("telegram.max_retries must be at least 1")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
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
