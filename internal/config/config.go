package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds daemon tunables from ~/.vence-monitor/config.toml plus
// the secrets that only ever come from the environment.
type Config struct {
	DefaultProfile    string   `toml:"default_profile"`
	HTTPAddr          string   `toml:"http_addr"`
	RequestTimeoutSec int      `toml:"request_timeout_seconds"`
	MaxRetries        int      `toml:"max_retries"`
	DefaultKeywords   []string `toml:"default_keywords"`

	// Environment-provided, never read from the file.
	AppID         int    `toml:"-"`
	AppHash       string `toml:"-"`
	SessionSecret string `toml:"-"`
}

// Default returns a config with built-in defaults applied.
func Default() *Config {
	return &Config{
		HTTPAddr:          "127.0.0.1:8787",
		RequestTimeoutSec: 30,
		MaxRetries:        5,
		DefaultKeywords: []string{
			"vence",
			"vence.es",
			"opositatest",
			"oposiciones",
			"auxiliar administrativo",
			"test",
			"qué app",
			"recomendáis",
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the
// file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// ReadSecrets pulls the application credentials and the session encryption
// secret from the environment. Missing values are fatal configuration errors.
func (c *Config) ReadSecrets() error {
	rawID := os.Getenv("TELEGRAM_API_ID")
	if rawID == "" {
		return fmt.Errorf("TELEGRAM_API_ID is not set")
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return fmt.Errorf("TELEGRAM_API_ID must be numeric: %w", err)
	}
	c.AppID = id

	c.AppHash = os.Getenv("TELEGRAM_API_HASH")
	if c.AppHash == "" {
		return fmt.Errorf("TELEGRAM_API_HASH is not set")
	}

	c.SessionSecret = os.Getenv("SESSION_ENCRYPTION_KEY")
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_ENCRYPTION_KEY is not set")
	}
	return nil
}

// RequestTimeout returns the per-RPC timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Save writes the file-backed part of config to the given path, creating
// parent dirs as needed.
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
