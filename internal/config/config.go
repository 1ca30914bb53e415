// Package config loads sqlstream settings.
//
// Sources are applied in order, later ones winning:
//
//  1. Built-in defaults (Default)
//  2. A .env file in the working directory, if present (joho/godotenv)
//  3. A YAML file, if a path is given
//  4. SQLSTREAM_* environment variables
//
// Command-line flags are applied by the caller after Load. The merged result
// is checked by Validate against an embedded CUE definition.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Notifier kinds.
const (
	NotifierNone      = "none"
	NotifierInProcess = "inprocess"
	NotifierPoll      = "poll"
	NotifierWatch     = "watch"
	NotifierListen    = "listen"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig         = "SQLSTREAM_CONFIG"
	EnvDialect        = "SQLSTREAM_DIALECT"
	EnvConnection     = "SQLSTREAM_CONNECTION_STRING"
	EnvSchema         = "SQLSTREAM_SCHEMA"
	EnvCommandTimeout = "SQLSTREAM_COMMAND_TIMEOUT"
	EnvNotifier       = "SQLSTREAM_NOTIFIER"
	EnvPollInterval   = "SQLSTREAM_POLL_INTERVAL"
	EnvMetricsAddr    = "SQLSTREAM_METRICS_ADDR"
	EnvLogLevel       = "SQLSTREAM_LOG_LEVEL"
)

// Config is the merged configuration of a sqlstream process.
type Config struct {
	Dialect          string         `yaml:"dialect"`
	ConnectionString string         `yaml:"connection_string"`
	Schema           string         `yaml:"schema"`
	CommandTimeout   time.Duration  `yaml:"command_timeout"`
	Notifier         NotifierConfig `yaml:"notifier"`
	MetricsAddr      string         `yaml:"metrics_addr"`
	LogLevel         string         `yaml:"log_level"`
}

// NotifierConfig selects how subscribers learn about new messages.
type NotifierConfig struct {
	Kind         string        `yaml:"kind"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the built-in configuration: a SQLite store with in-process
// notifications.
func Default() Config {
	return Config{
		Dialect:        "sqlite",
		CommandTimeout: 30 * time.Second,
		Notifier: NotifierConfig{
			Kind:         NotifierInProcess,
			PollInterval: 500 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load merges defaults, .env, the YAML file at path (skipped when empty) and
// the environment. It does not validate.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	// Unmarshal over the defaults so absent keys keep them.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from SQLSTREAM_* variables that are set.
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString(EnvDialect, &c.Dialect)
	setString(EnvConnection, &c.ConnectionString)
	setString(EnvSchema, &c.Schema)
	setString(EnvNotifier, &c.Notifier.Kind)
	setString(EnvMetricsAddr, &c.MetricsAddr)
	setString(EnvLogLevel, &c.LogLevel)
	if err := setDuration(EnvCommandTimeout, &c.CommandTimeout); err != nil {
		return err
	}
	return setDuration(EnvPollInterval, &c.Notifier.PollInterval)
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
