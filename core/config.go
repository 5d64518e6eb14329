package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultRequestTimeout       = 30 * time.Second
	MaxRequestTimeout           = 60 * time.Second
	DefaultMaxResponseBodyBytes = int64(10 << 20)
	DefaultMaxTriggerBodyBytes  = int64(1 << 20)
	DefaultLogPageSize          = 20
)

type RetentionConfig struct {
	Enabled    bool   `koanf:"enabled" mapstructure:"enabled"`
	MaxAgeDays int    `koanf:"max_age_days" mapstructure:"max_age_days"`
	Schedule   string `koanf:"schedule" mapstructure:"schedule"`
}

type DatabaseConfig struct {
	Driver             string `koanf:"driver" mapstructure:"driver"`
	DSN                string `koanf:"dsn" mapstructure:"dsn"`
	Debug              bool   `koanf:"debug" mapstructure:"debug"`
	PingTimeoutSeconds int    `koanf:"ping_timeout_seconds" mapstructure:"ping_timeout_seconds"`
}

type HTTPConfig struct {
	Addr          string `koanf:"addr" mapstructure:"addr"`
	TriggerPrefix string `koanf:"trigger_prefix" mapstructure:"trigger_prefix"`
	MetricsPath   string `koanf:"metrics_path" mapstructure:"metrics_path"`
}

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// SystemName is the X-<SystemName>-Event header prefix.
	SystemName            string          `koanf:"system_name" mapstructure:"system_name"`
	UserAgent             string          `koanf:"user_agent" mapstructure:"user_agent"`
	VerifyTLS             bool            `koanf:"verify_tls" mapstructure:"verify_tls"`
	RequestTimeoutSeconds int             `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	MaxResponseBodyBytes  int64           `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	MaxTriggerBodyBytes   int64           `koanf:"max_trigger_body_bytes" mapstructure:"max_trigger_body_bytes"`
	LogPageSize           int             `koanf:"log_page_size" mapstructure:"log_page_size"`
	Retention             RetentionConfig `koanf:"retention" mapstructure:"retention"`
	Database              DatabaseConfig  `koanf:"database" mapstructure:"database"`
	HTTP                  HTTPConfig      `koanf:"http" mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:           "webhooks",
		SystemName:            "Webhooks",
		UserAgent:             "go-webhooks/1.0",
		VerifyTLS:             true,
		RequestTimeoutSeconds: int(DefaultRequestTimeout / time.Second),
		MaxResponseBodyBytes:  DefaultMaxResponseBodyBytes,
		MaxTriggerBodyBytes:   DefaultMaxTriggerBodyBytes,
		LogPageSize:           DefaultLogPageSize,
		Retention: RetentionConfig{
			Enabled:    false,
			MaxAgeDays: 90,
			Schedule:   "@daily",
		},
		Database: DatabaseConfig{
			Driver:             "sqlite",
			DSN:                "file:webhooks.db?cache=shared&_foreign_keys=on",
			PingTimeoutSeconds: 5,
		},
		HTTP: HTTPConfig{
			Addr:          ":8080",
			TriggerPrefix: "/webhooks/trigger",
			MetricsPath:   "/metrics",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.SystemName) == "" {
		return fmt.Errorf("core: system_name is required")
	}
	if strings.ContainsAny(c.SystemName, " \t\r\n:") {
		return fmt.Errorf("core: system_name must be a valid header token")
	}
	if c.RequestTimeoutSeconds < 1 || time.Duration(c.RequestTimeoutSeconds)*time.Second > MaxRequestTimeout {
		return fmt.Errorf("core: request_timeout_seconds must be between 1 and %d", int(MaxRequestTimeout/time.Second))
	}
	if c.MaxResponseBodyBytes < 0 || c.MaxTriggerBodyBytes < 0 {
		return fmt.Errorf("core: body limits must not be negative")
	}
	if c.LogPageSize < 0 {
		return fmt.Errorf("core: log_page_size must not be negative")
	}
	if c.Retention.Enabled {
		if c.Retention.MaxAgeDays <= 0 {
			return fmt.Errorf("core: retention.max_age_days must be positive when retention is enabled")
		}
		if strings.TrimSpace(c.Retention.Schedule) == "" {
			return fmt.Errorf("core: retention.schedule is required when retention is enabled")
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func (c Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) EventHeader() string {
	return "X-" + strings.TrimSpace(c.SystemName) + "-Event"
}

func (c Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeDays) * 24 * time.Hour
}
