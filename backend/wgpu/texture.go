// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// texture is a HAL texture with the view used both as render attachment and
// as sampled source. The view covers mip level 0 of array layer 0.
type texture struct {
	label  string
	w, h   int
	format gputypes.TextureFormat
	usage  gputypes.TextureUsage

	raw  hal.Texture
	view hal.TextureView
}

func (t *texture) Width() int                     { return t.w }
func (t *texture) Height() int                    { return t.h }
func (t *texture) Format() gputypes.TextureFormat { return t.format }
func (t *texture) Label() string                  { return t.label }

// HalTexture returns the underlying HAL texture, for applications that
// render into vrbridge swapchain images directly. It is nil once the
// texture is destroyed.
func (t *texture) HalTexture() hal.Texture { return t.raw }

// HalView returns the default view of the texture.
func (t *texture) HalView() hal.TextureView { return t.view }
