// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/strata/internal/ingest"
)

// Config holds the settings shared by the CLI commands. Flags override
// these values.
type Config struct {
	Host          string        `env:"STRATA_HOST"`
	BaseURL       string        `env:"STRATA_BASE_URL"`
	DB            string        `env:"STRATA_DB"`
	ImportHandler string        `env:"STRATA_IMPORT_HANDLER" envDefault:"nested"`
	LogLevel      string        `env:"STRATA_LOG_LEVEL"      envDefault:"info"`
	HTTPTimeout   time.Duration `env:"STRATA_HTTP_TIMEOUT"   envDefault:"10s"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom is Load over an explicit environment instead of the process's.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	if _, err := c.Strategy(); err != nil {
		return fmt.Errorf("STRATA_IMPORT_HANDLER: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("STRATA_LOG_LEVEL: %w", err)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("STRATA_HTTP_TIMEOUT: must not be negative, got %s", c.HTTPTimeout)
	}
	return nil
}

// Strategy returns the import strategy named by ImportHandler.
func (c Config) Strategy() (ingest.Strategy, error) {
	return ingest.ParseStrategy(c.ImportHandler)
}

// Level returns the log level named by LogLevel. Empty means info.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
