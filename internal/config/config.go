// Package config loads bridge configuration from an optional YAML file with
// environment variable overrides. Every field has a usable default so the
// bridge runs with no config at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultAPIBase = "https://ravencolonial100-awcbdvabgze4c5cq.canadacentral-01.azurewebsites.net"

type Config struct {
	// JournalDir is the game's journal directory to tail.
	JournalDir string `yaml:"journal_dir"`

	API    APIConfig    `yaml:"api"`
	Status StatusConfig `yaml:"status"`
	Outbox OutboxConfig `yaml:"outbox"`
	Log    LogConfig    `yaml:"log"`

	// Stealth suppresses all outbound colonization and carrier calls while
	// still tracking state locally.
	Stealth bool `yaml:"stealth"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Key       string        `yaml:"key"`
	Commander string        `yaml:"commander"` // optional override; normally taken from LoadGame
	Timeout   time.Duration `yaml:"timeout"`
	// RatePerSec throttles outbound calls; burst is fixed at 1.
	RatePerSec float64 `yaml:"rate_per_sec"`
}

type StatusConfig struct {
	Addr     string `yaml:"addr"`
	RedisURL string `yaml:"redis_url"`
}

type OutboxConfig struct {
	// Path of the sqlite file for durable replay. Empty means in-memory only.
	Path        string        `yaml:"path"`
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		JournalDir: filepath.Join(home, "Saved Games", "Frontier Developments", "Elite Dangerous"),
		API: APIConfig{
			BaseURL:    defaultAPIBase,
			Timeout:    10 * time.Second,
			RatePerSec: 4,
		},
		Status: StatusConfig{Addr: ":8420"},
		Outbox: OutboxConfig{MaxAttempts: 10, Interval: 5 * time.Second},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path if it exists, then applies environment overrides. An empty
// path skips the file step entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 10 * time.Second
	}
	if cfg.Outbox.MaxAttempts <= 0 {
		cfg.Outbox.MaxAttempts = 10
	}
	if cfg.Outbox.Interval <= 0 {
		cfg.Outbox.Interval = 5 * time.Second
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("JOURNAL_DIR"); v != "" {
		c.JournalDir = v
	}
	if v := os.Getenv("RC_API_BASE"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("RC_API_KEY"); v != "" {
		c.API.Key = v
	}
	if v := os.Getenv("RC_CMDR"); v != "" {
		c.API.Commander = v
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		c.Status.Addr = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Status.RedisURL = v
	}
	if v := os.Getenv("OUTBOX_PATH"); v != "" {
		c.Outbox.Path = v
	}
	if v := os.Getenv("STEALTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Stealth = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}
