// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package mirror composes what the headset shows into a desktop texture.
package mirror

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/hcr"
	"github.com/gogpu/vrbridge/result"
)

// Layout selects which eyes the mirror shows.
type Layout int

const (
	// SideBySide shows the left eye in the left half and the right eye in
	// the right half.
	SideBySide Layout = iota
	// LeftEyeOnly fills the mirror with the left eye.
	LeftEyeOnly
	// RightEyeOnly fills the mirror with the right eye.
	RightEyeOnly
)

// String returns the configuration name of l.
func (l Layout) String() string {
	switch l {
	case SideBySide:
		return "side_by_side"
	case LeftEyeOnly:
		return "left_eye"
	case RightEyeOnly:
		return "right_eye"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// ParseLayout parses a layout name as returned by Layout.String.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "side_by_side", "sidebyside":
		return SideBySide, nil
	case "left_eye", "left":
		return LeftEyeOnly, nil
	case "right_eye", "right":
		return RightEyeOnly, nil
	}
	return 0, fmt.Errorf("%w: mirror layout %q", result.ErrInvalidArgument, s)
}

// regions returns the target region of each eye; a zero Rect means the eye
// is not shown.
func (l Layout) regions() [2]geom.Rect {
	switch l {
	case LeftEyeOnly:
		return [2]geom.Rect{geom.FullRect, {}}
	case RightEyeOnly:
		return [2]geom.Rect{{}, geom.FullRect}
	default:
		return [2]geom.Rect{
			{UMin: 0, VMin: 0, UMax: 0.5, VMax: 1},
			{UMin: 0.5, VMin: 0, UMax: 1, VMax: 1},
		}
	}
}

// Desc describes a mirror texture.
type Desc struct {
	Width  int
	Height int
	Format gputypes.TextureFormat // zero means RGBA8Unorm
}

// Composer owns the session's mirror texture.
type Composer struct {
	mu      sync.Mutex
	backend backend.Backend
	rt      hcr.Runtime
	layout  Layout
	clear   gputypes.Color
	tex     backend.Texture
	logger  *slog.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithLayout sets the eye layout.
func WithLayout(l Layout) Option {
	return func(c *Composer) { c.layout = l }
}

// WithClearColor sets the color the mirror shows where no eye is drawn.
func WithClearColor(col gputypes.Color) Option {
	return func(c *Composer) { c.clear = col }
}

// NewComposer creates a composer without a bound texture.
func NewComposer(b backend.Backend, rt hcr.Runtime, opts ...Option) *Composer {
	c := &Composer{
		backend: b,
		rt:      rt,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger sets the composer logger.
func (c *Composer) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// Bind allocates a mirror texture, replacing the bound one. The new texture
// is cleared to the clear color.
func (c *Composer) Bind(desc Desc) (backend.Texture, error) {
	if desc.Format == 0 {
		desc.Format = gputypes.TextureFormatRGBA8Unorm
	}
	if desc.Format.IsDepthStencil() {
		return nil, fmt.Errorf("%w: mirror format %s", result.ErrUnsupportedFormat, desc.Format)
	}
	tex, err := c.backend.CreateTexture(backend.TextureDesc{
		Label:  "mirror",
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: create texture: %w", err)
	}
	if err := c.backend.Clear(tex, c.clear); err != nil {
		c.backend.DestroyTexture(tex)
		return nil, fmt.Errorf("mirror: clear: %w", err)
	}

	c.mu.Lock()
	old := c.tex
	c.tex = tex
	c.mu.Unlock()
	c.backend.DestroyTexture(old)
	c.logger.Info("mirror: bound", "width", desc.Width, "height", desc.Height, "layout", c.layout.String())
	return tex, nil
}

// Unbind releases the mirror texture.
func (c *Composer) Unbind() {
	c.mu.Lock()
	tex := c.tex
	c.tex = nil
	c.mu.Unlock()
	c.backend.DestroyTexture(tex)
}

// Texture returns the bound texture, or nil.
func (c *Composer) Texture() backend.Texture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tex
}

// Compose redraws the mirror from the runtime's current eye views. Eyes
// without a view leave the clear color. Compose without a bound texture
// does nothing.
func (c *Composer) Compose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tex == nil {
		return nil
	}
	if err := c.backend.Clear(c.tex, c.clear); err != nil {
		return fmt.Errorf("mirror: clear: %w", err)
	}
	for i, region := range c.layout.regions() {
		if region.IsEmpty() {
			continue
		}
		eye := hcr.Eyes[i]
		src, bounds, ok := c.rt.EyeView(eye)
		if !ok {
			continue
		}
		if err := c.backend.DrawQuad(src, bounds, c.tex, region, backend.BlendReplace); err != nil {
			return fmt.Errorf("mirror: draw %s eye: %w", eye, err)
		}
	}
	return nil
}

// Close releases the mirror texture.
func (c *Composer) Close() { c.Unbind() }
