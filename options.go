// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vrbridge

import (
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/internal/config"
	"github.com/gogpu/vrbridge/mirror"
)

// Option configures a Session during creation.
//
// Example:
//
//	// CPU backend, default configuration
//	s, err := vrbridge.NewSession(rt)
//
//	// GPU backend on the application's HAL device, settings from a file
//	cfg, err := vrbridge.LoadConfig("vrbridge.yaml")
//	s, err := vrbridge.NewSession(rt, vrbridge.WithConfig(cfg), vrbridge.WithDevice(device))
type Option func(*sessionOptions)

// sessionOptions holds the configuration NewSession works from.
type sessionOptions struct {
	cfg     config.Config
	device  any
	backend backend.Backend
	logger  *slog.Logger
}

func defaultOptions() sessionOptions {
	return sessionOptions{cfg: *config.Default()}
}

// WithConfig replaces the whole configuration. Options after it override
// individual fields.
func WithConfig(c *Config) Option {
	return func(o *sessionOptions) {
		if c != nil {
			o.cfg = *c
			o.cfg.Mirror.ClearColor = append([]float64(nil), c.Mirror.ClearColor...)
		}
	}
}

// WithDevice passes the application's graphics device. The first registered
// backend that accepts the device is used; nil selects a backend that needs
// no device.
func WithDevice(device any) Option {
	return func(o *sessionOptions) { o.device = device }
}

// WithBackend uses b instead of selecting one from the device. The session
// does not close b.
func WithBackend(b backend.Backend) Option {
	return func(o *sessionOptions) { o.backend = b }
}

// WithBackendName tries the named backend before the others.
func WithBackendName(name string) Option {
	return func(o *sessionOptions) { o.cfg.Backend.Preferred = name }
}

// WithLogger sets the session logger. Without it the session uses Logger().
func WithLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithHiddenAreaMask enables writing the compositor's hidden area mesh into
// eye depth textures cleared to the trigger depth. Backends without
// depth clear support ignore it.
func WithHiddenAreaMask() Option {
	return func(o *sessionOptions) { o.cfg.Depth.HiddenAreaMask = true }
}

// WithSwapChainLength sets the ring length of swapchains created without one.
func WithSwapChainLength(n int) Option {
	return func(o *sessionOptions) { o.cfg.Swapchain.DefaultLength = n }
}

// WithMaxOverlays bounds the overlay pool.
func WithMaxOverlays(n int) Option {
	return func(o *sessionOptions) { o.cfg.Overlays.Max = n }
}

// WithWaitTimeout bounds WaitToBeginFrame.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *sessionOptions) { o.cfg.Frame.WaitTimeout = d }
}

// WithMirrorLayout sets which eyes the mirror texture shows.
func WithMirrorLayout(l mirror.Layout) Option {
	return func(o *sessionOptions) { o.cfg.Mirror.Layout = l.String() }
}

// WithMirrorClearColor sets the color of mirror regions without an eye view.
func WithMirrorClearColor(c gputypes.Color) Option {
	return func(o *sessionOptions) {
		o.cfg.Mirror.ClearColor = []float64{c.R, c.G, c.B, c.A}
	}
}
