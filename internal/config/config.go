// Package config loads vrbridge session configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds session configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Swapchain SwapchainConfig `yaml:"swapchain"`
	Overlays  OverlayConfig   `yaml:"overlays"`
	Frame     FrameConfig     `yaml:"frame"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Depth     DepthConfig     `yaml:"depth"`
}

// BackendConfig selects the rendering backend.
type BackendConfig struct {
	// Preferred is tried first; empty means registry priority order.
	Preferred string `yaml:"preferred"`
}

// SwapchainConfig holds swapchain defaults.
type SwapchainConfig struct {
	DefaultLength int `yaml:"default_length"`
}

// OverlayConfig holds overlay pool settings.
type OverlayConfig struct {
	Max int `yaml:"max"`
}

// FrameConfig holds frame sequencing settings.
type FrameConfig struct {
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	Retry       RetryConfig   `yaml:"retry"`
}

// RetryConfig shapes the backoff between readiness polls.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// MirrorConfig holds mirror composition settings.
type MirrorConfig struct {
	Layout     string    `yaml:"layout"`
	ClearColor []float64 `yaml:"clear_color"` // r, g, b, a
}

// DepthConfig holds the hidden area mask settings.
type DepthConfig struct {
	HiddenAreaMask bool    `yaml:"hidden_area_mask"`
	TriggerDepth   float32 `yaml:"trigger_depth"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Swapchain: SwapchainConfig{DefaultLength: 3},
		Overlays:  OverlayConfig{Max: 16},
		Frame: FrameConfig{
			WaitTimeout: 2 * time.Second,
			Retry: RetryConfig{
				InitialDelay: time.Millisecond,
				MaxDelay:     50 * time.Millisecond,
				Multiplier:   2,
				MaxAttempts:  1000,
			},
		},
		Mirror: MirrorConfig{
			Layout:     "side_by_side",
			ClearColor: []float64{0, 0, 0, 0},
		},
		Depth: DepthConfig{TriggerDepth: 0},
	}
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Swapchain.DefaultLength < 2:
		return fmt.Errorf("config: swapchain.default_length %d, need at least 2", c.Swapchain.DefaultLength)
	case c.Overlays.Max < 1:
		return fmt.Errorf("config: overlays.max %d, need at least 1", c.Overlays.Max)
	case c.Frame.WaitTimeout <= 0:
		return fmt.Errorf("config: frame.wait_timeout %v must be positive", c.Frame.WaitTimeout)
	case len(c.Mirror.ClearColor) != 4:
		return fmt.Errorf("config: mirror.clear_color needs 4 components, got %d", len(c.Mirror.ClearColor))
	}
	return nil
}
