// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"image"

	"github.com/gogpu/gputypes"
)

// texture is a CPU texture. Exactly one of img and depth is non-nil while
// the texture is live.
type texture struct {
	label  string
	w, h   int
	format gputypes.TextureFormat
	size   int64

	img   *image.RGBA
	depth []float32
}

func (t *texture) Width() int                     { return t.w }
func (t *texture) Height() int                    { return t.h }
func (t *texture) Format() gputypes.TextureFormat { return t.format }
func (t *texture) Label() string                  { return t.label }
