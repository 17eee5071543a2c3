// Package config loads ~/.frontdesk/config.toml and overlays environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override, e.g. FRONTDESK_WS_URL.
const EnvPrefix = "FRONTDESK_"

// Config represents the global ~/.frontdesk/config.toml.
type Config struct {
	DefaultProfile  string        `toml:"default_profile" env:"DEFAULT_PROFILE"`
	APIURL          string        `toml:"api_url" env:"API_URL"`
	WSURL           string        `toml:"ws_url" env:"WS_URL"`
	TokenFile       string        `toml:"token_file" env:"TOKEN_FILE"`
	Token           string        `toml:"-" env:"TOKEN"`
	LogLevel        string        `toml:"log_level" env:"LOG_LEVEL"`
	AckTimeout      time.Duration `toml:"ack_timeout" env:"ACK_TIMEOUT"`
	NotificationTTL time.Duration `toml:"notification_ttl" env:"NOTIFICATION_TTL"`
	MetricsAddr     string        `toml:"metrics_addr" env:"METRICS_ADDR"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DefaultProfile:  "main",
		APIURL:          "http://localhost:8000/api",
		WSURL:           "ws://localhost:8000/ws/chat/",
		LogLevel:        "info",
		AckTimeout:      15 * time.Second,
		NotificationTTL: 10 * time.Second,
	}
}

// LoadFile reads config from the given path. Returns zero config and error
// if the file is missing.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load builds the effective configuration: defaults, then the TOML file at
// path when it exists, then FRONTDESK_* variables. dotenv files are loaded
// into the environment first; variables already set win over them.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		_, err := toml.DecodeFile(path, &cfg)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings needed to run the chat client.
func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.WSURL == "" {
		errs = append(errs, errors.New("ws_url is required"))
	}
	if c.AckTimeout < 0 {
		errs = append(errs, errors.New("ack_timeout must not be negative"))
	}
	if c.NotificationTTL < 0 {
		errs = append(errs, errors.New("notification_ttl must not be negative"))
	}
	return errors.Join(errs...)
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
