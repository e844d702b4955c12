// Package config loads engine configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// Config holds all engine configuration
type Config struct {
	// Environment selects logger presets ("development" or "production")
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the preset logger level when non-empty
	LogLevel string `env:"LOG_LEVEL" envDefault:""`

	// HistoryDepth bounds the document undo stack
	HistoryDepth int `env:"HISTORY_DEPTH" envDefault:"100"`

	// InferenceMaxPasses caps rule application per inference recompute
	InferenceMaxPasses int `env:"INFERENCE_MAX_PASSES" envDefault:"3"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for usable values
func (c *Config) Validate() error {
	if c.HistoryDepth <= 0 {
		return fmt.Errorf("HISTORY_DEPTH must be positive, got %d", c.HistoryDepth)
	}
	if c.InferenceMaxPasses <= 0 {
		return fmt.Errorf("INFERENCE_MAX_PASSES must be positive, got %d", c.InferenceMaxPasses)
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
