package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "30s"/"5m" strings.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns the underlying time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config holds the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Trading   TradingConfig   `yaml:"trading"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP server parameters.
type ServerConfig struct {
	Port         string   `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// DatabaseConfig contains storage connection strings. Empty URL falls
// back to the in-memory store.
type DatabaseConfig struct {
	URL      string   `yaml:"url"`
	RedisURL string   `yaml:"redis_url"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// TradingConfig contains trade lifecycle parameters.
type TradingConfig struct {
	SettleOffsetDays int      `yaml:"settle_offset_days"`
	MonitoredFunds   []string `yaml:"monitored_funds"`
}

// AlertingConfig contains alert evaluation parameters.
type AlertingConfig struct {
	DefaultWindowDays int `yaml:"default_window_days"`
	DeliveryBatch     int `yaml:"delivery_batch"`
}

// SchedulerConfig contains job worker parameters.
type SchedulerConfig struct {
	MaxAttempts        int      `yaml:"max_attempts"`
	WorkerTick         Duration `yaml:"worker_tick"`
	NavSyncInterval    Duration `yaml:"nav_sync_interval"`
	SettleInterval     Duration `yaml:"settle_interval"`
	AlertCheckInterval Duration `yaml:"alert_check_interval"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			CacheTTL: Duration(30 * time.Second),
		},
		Trading: TradingConfig{
			SettleOffsetDays: 1,
		},
		Alerting: AlertingConfig{
			DefaultWindowDays: 30,
			DeliveryBatch:     100,
		},
		Scheduler: SchedulerConfig{
			MaxAttempts:        3,
			WorkerTick:         Duration(5 * time.Second),
			NavSyncInterval:    Duration(time.Hour),
			SettleInterval:     Duration(15 * time.Minute),
			AlertCheckInterval: Duration(5 * time.Minute),
		},
	}
}

// LoadFromFile loads configuration from a YAML file, laid over defaults,
// then applies environment overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load returns defaults with environment overrides applied, for running
// without a config file.
func Load() (*Config, error) {
	cfg := Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the config. Connection
// strings live in the environment so config files stay secret-free.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Database.RedisURL = v
	}
	if v := os.Getenv("SETTLE_OFFSET_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Trading.SettleOffsetDays = n
		}
	}
	if v := os.Getenv("JOB_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.MaxAttempts = n
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Trading.SettleOffsetDays < 0 {
		return fmt.Errorf("trading.settle_offset_days must not be negative")
	}
	if c.Alerting.DefaultWindowDays <= 0 {
		return fmt.Errorf("alerting.default_window_days must be positive")
	}
	if c.Alerting.DeliveryBatch <= 0 {
		return fmt.Errorf("alerting.delivery_batch must be positive")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be positive")
	}
	if c.Scheduler.WorkerTick <= 0 {
		return fmt.Errorf("scheduler.worker_tick must be positive")
	}
	for _, iv := range []Duration{c.Scheduler.NavSyncInterval, c.Scheduler.SettleInterval, c.Scheduler.AlertCheckInterval} {
		if iv <= 0 {
			return fmt.Errorf("scheduler intervals must be positive")
		}
	}
	return nil
}
