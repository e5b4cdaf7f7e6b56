// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vrbridge

import "github.com/gogpu/vrbridge/internal/config"

// Config is the session configuration as read from YAML.
//
//	backend:
//	  preferred: wgpu
//	swapchain:
//	  default_length: 3
//	overlays:
//	  max: 16
//	frame:
//	  wait_timeout: 2s
//	  retry:
//	    initial_delay: 1ms
//	    max_delay: 50ms
//	    multiplier: 2
//	mirror:
//	  layout: side_by_side
//	  clear_color: [0, 0, 0, 0]
//	depth:
//	  hidden_area_mask: false
//	  trigger_depth: 0
type Config = config.Config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a YAML configuration file. Keys missing from the file
// keep their defaults; a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }
