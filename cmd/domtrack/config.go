package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domtrack/tracker"
)

// Config is the daemon configuration file.
type Config struct {
	// Listen is the HTTP bind address. Default: ":8089".
	Listen string `yaml:"listen"`
	// DBPath is the SQLite file. Default: "db/domtrack.db".
	DBPath string `yaml:"db_path"`

	// Browser connects the daemon to a running Chrome via its DevTools
	// websocket URL. Empty means no browser: sessions are protocol-only
	// and hosts push batches over HTTP.
	Browser struct {
		ControlURL string `yaml:"control_url"`
	} `yaml:"browser"`

	// Tracker holds the per-session defaults (threshold, grace period,
	// debounce, capacity, weights). SessionID and PageURL are set per
	// session and ignored here.
	Tracker tracker.Config `yaml:"tracker"`

	Sinks struct {
		// Stdout emits lifecycle events as JSON lines on stdout.
		Stdout bool `yaml:"stdout"`
		// WebhookURL POSTs lifecycle events to this URL.
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"sinks"`

	// Auth enables HTTP basic auth when PasswordHash is set.
	Auth struct {
		User string `yaml:"user"`
		// PasswordHash is a bcrypt hash of the password.
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"auth"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8089"
	}
	if c.DBPath == "" {
		c.DBPath = "db/domtrack.db"
	}
	if c.Auth.User == "" {
		c.Auth.User = "admin"
	}
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.defaults()
	return cfg, nil
}
