// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for leafcheckd.
package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Checkin   CheckinConfig   `yaml:"checkin"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the control-plane HTTP server.
type ServerConfig struct {
	// Listen is the bind address, e.g. ":8181".
	Listen string `yaml:"listen"`

	// JWTSecret signs control-plane session tokens. Required.
	JWTSecret string `yaml:"jwt_secret"`

	// AdminUser / AdminPass are the operator login credentials.
	AdminUser string `yaml:"admin_user"`
	AdminPass string `yaml:"admin_pass"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (sqlite backend).
	Path string `yaml:"path"`

	// DSN is the Postgres connection string (postgres backend).
	DSN string `yaml:"dsn"`

	// MaxRetries bounds reconnection attempts per recovery cycle.
	MaxRetries int `yaml:"max_retries"`

	// RetryBase is the first backoff delay; it doubles per attempt.
	RetryBase Duration `yaml:"retry_base"`

	// RetryMax caps the backoff delay.
	RetryMax Duration `yaml:"retry_max"`
}

// SchedulerConfig tunes the check-in sweep.
type SchedulerConfig struct {
	// Timezone names the location for schedule matching and the
	// calendar-day dedup window, e.g. "Asia/Shanghai".
	Timezone string `yaml:"timezone"`

	// Workers caps simultaneous check-in executions.
	Workers int64 `yaml:"workers"`
}

// CheckinConfig points the executor at the external service.
type CheckinConfig struct {
	SiteURL    string   `yaml:"site_url"`
	CheckinURL string   `yaml:"checkin_url"`
	Timeout    Duration `yaml:"timeout"`
	UserAgent  string   `yaml:"user_agent"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`
}

// Duration parses Go duration strings ("3s", "5m") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults fills unset fields with working values. Called by Load.
func (c *Config) Defaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8181"
	}
	if c.Server.AdminUser == "" {
		c.Server.AdminUser = "admin"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/leafcheck.db"
	}
	if c.Storage.MaxRetries <= 0 {
		c.Storage.MaxRetries = 12
	}
	if c.Storage.RetryBase <= 0 {
		c.Storage.RetryBase = Duration(3 * time.Second)
	}
	if c.Storage.RetryMax <= 0 {
		c.Storage.RetryMax = Duration(5 * time.Minute)
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Asia/Shanghai"
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 4
	}
	if c.Checkin.Timeout <= 0 {
		c.Checkin.Timeout = Duration(30 * time.Second)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q (want sqlite or postgres)", c.Storage.Backend))
	}

	if c.Server.JWTSecret == "" {
		errs = append(errs, errors.New("server.jwt_secret is required"))
	}
	if c.Server.AdminPass == "" {
		errs = append(errs, errors.New("server.admin_pass is required"))
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
