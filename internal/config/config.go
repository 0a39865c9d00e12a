// Package config provides YAML-based configuration loading for Parley.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Parley configuration, loaded from config.yaml.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Rooms     []string        `yaml:"rooms"`
	Session   SessionConfig   `yaml:"session"`
	Database  DatabaseConfig  `yaml:"database"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Herald    HeraldConfig    `yaml:"herald"`
}

// BackendConfig holds connection settings for the negotiation backend.
type BackendConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// Reconnect tuning. Zero values take the stream defaults.
	BaseBackoffSec int `yaml:"base_backoff_sec"`
	MaxBackoffSec  int `yaml:"max_backoff_sec"`
	MaxReconnects  int `yaml:"max_reconnects"`
}

// SessionConfig holds default buyer constraints for started negotiations.
type SessionConfig struct {
	ItemName  string  `yaml:"item_name"`
	MaxBudget float64 `yaml:"max_budget"`
	Quantity  int     `yaml:"quantity"`
	MaxRounds int     `yaml:"max_rounds"`
}

// DatabaseConfig holds connection settings for the outcome archive.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DashboardConfig holds settings for the HTTP API server.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// HeraldConfig holds settings for chat announcements.
type HeraldConfig struct {
	Platform string        `yaml:"platform"` // "slack" or "discord"; empty disables herald
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
	Events   EventsConfig  `yaml:"events"`
	Digest   DigestConfig  `yaml:"digest"`
}

// SlackConfig holds Slack credentials for the herald adapter.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord credentials for the herald adapter.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// EventsConfig toggles which room outcomes are announced.
type EventsConfig struct {
	Deals    bool `yaml:"deals"`
	NoDeals  bool `yaml:"no_deals"`
	Sessions bool `yaml:"sessions"`
	Failures bool `yaml:"failures"` // exhausted-retry stream failures
}

// DigestConfig holds the digest schedules.
type DigestConfig struct {
	Daily  DigestSchedule `yaml:"daily"`
	Weekly DigestSchedule `yaml:"weekly"`
}

// DigestSchedule is one cron-scheduled digest.
type DigestSchedule struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // 5-field cron expression
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "parley.db"
	}
	if c.Database.Driver == "mysql" && c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Session.Quantity == 0 {
		c.Session.Quantity = 1
	}
	if c.Session.MaxRounds == 0 {
		c.Session.MaxRounds = 5
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Backend.URL == "" {
		errs = append(errs, "backend.url is required")
	}
	for i, r := range c.Rooms {
		if strings.TrimSpace(r) == "" {
			errs = append(errs, fmt.Sprintf("rooms[%d] must not be empty", i))
		}
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite or mysql)", c.Database.Driver))
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required for mysql")
		}
		if c.Database.Database == "" {
			errs = append(errs, "database.database is required for mysql")
		}
	}
	if c.Session.Quantity < 1 {
		errs = append(errs, "session.quantity must be at least 1")
	}
	if c.Session.MaxRounds < 1 {
		errs = append(errs, "session.max_rounds must be at least 1")
	}

	switch c.Herald.Platform {
	case "":
	case "slack":
		if c.Herald.Channel == "" {
			errs = append(errs, "herald.channel is required when herald is enabled")
		}
		if c.Herald.Slack.BotToken == "" {
			errs = append(errs, "herald.slack.bot_token is required for slack")
		}
	case "discord":
		if c.Herald.Channel == "" {
			errs = append(errs, "herald.channel is required when herald is enabled")
		}
		if c.Herald.Discord.BotToken == "" {
			errs = append(errs, "herald.discord.bot_token is required for discord")
		}
	default:
		errs = append(errs, fmt.Sprintf("herald.platform %q is not supported (slack or discord)", c.Herald.Platform))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
