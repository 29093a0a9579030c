// Package config loads gateway configuration from a YAML file with
// environment variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Admin    AdminConfig    `yaml:"admin"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Usage    UsageConfig    `yaml:"usage"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the database DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AdminConfig holds administrator bootstrap and session settings.
type AdminConfig struct {
	// Username/Password seed the first admin account at migration time.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// JWTSecret signs admin session tokens.
	JWTSecret string `yaml:"jwt-secret"`
	// JWTExpiryHours bounds admin session lifetime.
	JWTExpiryHours int `yaml:"jwt-expiry-hours"`
}

// UpstreamConfig holds settings for the default upstream protocol client.
type UpstreamConfig struct {
	// BaseURL is the upstream API host for chat completions.
	BaseURL string `yaml:"base-url"`
	// RequestTimeoutSeconds bounds non-streaming upstream calls.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds"`
}

// UsageConfig holds usage-history housekeeping settings.
type UsageConfig struct {
	// RetentionDays prunes usage records older than this many days.
	// Zero keeps records forever.
	RetentionDays int `yaml:"retention-days"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads the config file at path and applies env overrides. A missing
// file is not an error; env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000},
		Admin:  AdminConfig{Username: "admin", JWTExpiryHours: 24},
		Log:    LogConfig{Level: "info"},
		Upstream: UpstreamConfig{
			RequestTimeoutSeconds: 300,
		},
	}

	if strings.TrimSpace(path) != "" {
		data, errRead := os.ReadFile(path)
		switch {
		case errRead == nil:
			if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
			}
		case os.IsNotExist(errRead):
			// fall through to env overrides
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, errRead)
		}
	}

	applyEnvOverrides(cfg)

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: database dsn is required (set database.dsn or DATABASE_URL)")
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("SERVER_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("SERVER_PORT")); v != "" {
		if port, errParse := strconv.Atoi(v); errParse == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")); v != "" {
		cfg.Admin.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET")); v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL")); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("USAGE_RETENTION_DAYS")); v != "" {
		if days, errParse := strconv.Atoi(v); errParse == nil && days >= 0 {
			cfg.Usage.RetentionDays = days
		}
	}
}
