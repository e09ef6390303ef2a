package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Engine      EngineConfig      `yaml:"engine"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Notify      NotifyConfig      `yaml:"notify"`
	Billing     BillingConfig     `yaml:"billing"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

// ServerConfig holds the operator API listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis settings used for the batch lock. Redis is
// optional; with no address the engine falls back to a PG advisory lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig holds the lifecycle engine's schedule marks and dwell times.
// The defaults match the product behavior; they are exposed here as tunable
// parameters rather than buried as magic numbers in the stage table.
type EngineConfig struct {
	// Day-offsets relative to the delivery date.
	ReserveDaysBefore        int `yaml:"reserve_days_before"`         // reserve funds at D-14
	AddressRequestDaysBefore int `yaml:"address_request_days_before"` // request address at D-10
	EscalateDaysBefore       int `yaml:"escalate_days_before"`        // give up at D-1

	// Dwell times between stages, in days.
	ReservationDwellDays int `yaml:"reservation_dwell_days"` // auto-confirm 3 days after reservation
	AddressDwellDays     int `yaml:"address_dwell_days"`     // confirm 1 day after address arrives
	ReminderAfterDays    int `yaml:"reminder_after_days"`    // remind 3 days after request
	ReminderMinDaysLeft  int `yaml:"reminder_min_days_left"` // no reminder inside D-2

	GatewayTimeoutSeconds int `yaml:"gateway_timeout_seconds"` // per external call
	BatchLimit            int `yaml:"batch_limit"`             // max gifts per pass
	UserConcurrency       int `yaml:"user_concurrency"`        // parallel users per pass
	LockTTLMinutes        int `yaml:"lock_ttl_minutes"`
}

// GatewayTimeout returns the per-call budget for external gateways.
func (e EngineConfig) GatewayTimeout() time.Duration {
	return time.Duration(e.GatewayTimeoutSeconds) * time.Second
}

// FulfillmentConfig holds the fulfillment gateway API settings.
type FulfillmentConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// NotifyConfig holds notification dispatcher settings. Mode selects the
// implementation: "webhook" posts structured events to the product backend,
// "ses" emails users directly via AWS SESv2.
type NotifyConfig struct {
	Mode           string    `yaml:"mode"`
	WebhookURL     string    `yaml:"webhook_url"`
	APIKey         string    `yaml:"api_key"`
	TimeoutSeconds int       `yaml:"timeout_seconds"`
	SES            SESConfig `yaml:"ses"`
}

// SESConfig holds AWS SESv2 credentials for the email dispatcher.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`
}

// BillingConfig holds the payments provider used for auto-reload charges.
type BillingConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ArchiveConfig holds automation-log archival settings.
type ArchiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	S3Bucket      string `yaml:"s3_bucket"`
	S3Region      string `yaml:"s3_region"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}

	if cfg.Engine.ReserveDaysBefore == 0 {
		cfg.Engine.ReserveDaysBefore = 14
	}
	if cfg.Engine.AddressRequestDaysBefore == 0 {
		cfg.Engine.AddressRequestDaysBefore = 10
	}
	if cfg.Engine.EscalateDaysBefore == 0 {
		cfg.Engine.EscalateDaysBefore = 1
	}
	if cfg.Engine.ReservationDwellDays == 0 {
		cfg.Engine.ReservationDwellDays = 3
	}
	if cfg.Engine.AddressDwellDays == 0 {
		cfg.Engine.AddressDwellDays = 1
	}
	if cfg.Engine.ReminderAfterDays == 0 {
		cfg.Engine.ReminderAfterDays = 3
	}
	if cfg.Engine.ReminderMinDaysLeft == 0 {
		cfg.Engine.ReminderMinDaysLeft = 2
	}
	if cfg.Engine.GatewayTimeoutSeconds == 0 {
		cfg.Engine.GatewayTimeoutSeconds = 25
	}
	if cfg.Engine.BatchLimit == 0 {
		cfg.Engine.BatchLimit = 1000
	}
	if cfg.Engine.UserConcurrency == 0 {
		cfg.Engine.UserConcurrency = 4
	}
	if cfg.Engine.LockTTLMinutes == 0 {
		cfg.Engine.LockTTLMinutes = 30
	}

	if cfg.Fulfillment.TimeoutSeconds == 0 {
		cfg.Fulfillment.TimeoutSeconds = 25
	}
	if cfg.Fulfillment.MaxRetries == 0 {
		cfg.Fulfillment.MaxRetries = 3
	}
	if cfg.Notify.Mode == "" {
		cfg.Notify.Mode = "webhook"
	}
	if cfg.Notify.TimeoutSeconds == 0 {
		cfg.Notify.TimeoutSeconds = 10
	}
	if cfg.Notify.SES.Region == "" {
		cfg.Notify.SES.Region = "us-west-2"
	}
	if cfg.Billing.TimeoutSeconds == 0 {
		cfg.Billing.TimeoutSeconds = 25
	}
	if cfg.Archive.RetentionDays == 0 {
		cfg.Archive.RetentionDays = 90
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FULFILLMENT_BASE_URL"); v != "" {
		cfg.Fulfillment.BaseURL = v
	}
	if v := os.Getenv("FULFILLMENT_API_KEY"); v != "" {
		cfg.Fulfillment.APIKey = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("NOTIFY_API_KEY"); v != "" {
		cfg.Notify.APIKey = v
	}
	if v := os.Getenv("BILLING_BASE_URL"); v != "" {
		cfg.Billing.BaseURL = v
	}
	if v := os.Getenv("BILLING_API_KEY"); v != "" {
		cfg.Billing.APIKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Notify.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Notify.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Notify.SES.Region = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}

	return cfg, nil
}
