package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full startup configuration. Required keys are checked by
// Validate; everything else has a default.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Business   BusinessConfig   `mapstructure:"business"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite (default) or mysql
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Notify string `mapstructure:"notify"`
}

type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type ReconcilerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	MaxInFlight     int `mapstructure:"max_in_flight"`
	MaxBackoffTicks int `mapstructure:"max_backoff_ticks"`
}

type BusinessConfig struct {
	MaxOrderAgeHours int      `mapstructure:"max_order_age_hours"`
	RefundOnFailure  bool     `mapstructure:"refund_on_failure"`
	OperatorIDs      []string `mapstructure:"operator_ids"`
	MaxNotifyRetries int      `mapstructure:"max_notify_retries"`
}

type WebhookConfig struct {
	Secret       string `mapstructure:"secret"`
	AuditLogPath string `mapstructure:"audit_log_path"`
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconciler.IntervalSeconds) * time.Second
}

func (c *Config) MaxOrderAge() time.Duration {
	return time.Duration(c.Business.MaxOrderAgeHours) * time.Hour
}

func (c *Config) IsOperator(id string) bool {
	for _, op := range c.Business.OperatorIDs {
		if op == id {
			return true
		}
	}
	return false
}

// Validate fails fast on missing required keys: provider credentials, store
// DSN and the operator list must be present at startup.
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("config: provider.base_url is required")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("config: provider.api_key is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if len(c.Business.OperatorIDs) == 0 {
		return fmt.Errorf("config: business.operator_ids is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("config: server.port is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("provider.timeout_seconds", 30)
	v.SetDefault("reconciler.interval_seconds", 120)
	v.SetDefault("reconciler.max_in_flight", 8)
	v.SetDefault("reconciler.max_backoff_ticks", 32)
	v.SetDefault("business.max_order_age_hours", 24)
	v.SetDefault("business.refund_on_failure", true)
	v.SetDefault("business.max_notify_retries", 5)
	v.SetDefault("kafka.topic.notify", "storebot.notify")
	v.SetDefault("webhook.audit_log_path", "logs/webhook_raw.log")
}

// Load reads the YAML config file and validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
