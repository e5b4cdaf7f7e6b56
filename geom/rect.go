// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package geom

import (
	"fmt"

	"github.com/gogpu/vrbridge/result"
)

// Rect is a normalized texture sub-rectangle. Coordinates are in [0,1] with
// U running left to right and V top to bottom.
//
// A Rect with VMin > VMax samples its source upside down; FlipV produces one.
type Rect struct {
	UMin, VMin, UMax, VMax float64
}

// FullRect covers the whole texture.
var FullRect = Rect{UMin: 0, VMin: 0, UMax: 1, VMax: 1}

// Width returns the signed U extent.
func (r Rect) Width() float64 { return r.UMax - r.UMin }

// Height returns the signed V extent.
func (r Rect) Height() float64 { return r.VMax - r.VMin }

// IsFull reports whether r covers the whole texture without flipping.
func (r Rect) IsFull() bool { return r == FullRect }

// IsEmpty reports whether r has zero area.
func (r Rect) IsEmpty() bool { return r.Width() == 0 || r.Height() == 0 }

// FlipV mirrors r vertically within the unit square.
func (r Rect) FlipV() Rect {
	return Rect{UMin: r.UMin, VMin: 1 - r.VMin, UMax: r.UMax, VMax: 1 - r.VMax}
}

// Clamp limits every coordinate to [0,1].
func (r Rect) Clamp() Rect {
	return Rect{
		UMin: clamp01(r.UMin),
		VMin: clamp01(r.VMin),
		UMax: clamp01(r.UMax),
		VMax: clamp01(r.VMax),
	}
}

// Compose maps inner, expressed relative to r, into r's coordinate space.
// Composing with FullRect returns r unchanged.
func (r Rect) Compose(inner Rect) Rect {
	w, h := r.Width(), r.Height()
	return Rect{
		UMin: r.UMin + inner.UMin*w,
		VMin: r.VMin + inner.VMin*h,
		UMax: r.UMin + inner.UMax*w,
		VMax: r.VMin + inner.VMax*h,
	}
}

// Inside reports whether every coordinate lies in [0,1].
func (r Rect) Inside() bool {
	return in01(r.UMin) && in01(r.VMin) && in01(r.UMax) && in01(r.VMax)
}

// String returns a compact representation for log records.
func (r Rect) String() string {
	return fmt.Sprintf("[%.4g,%.4g]-[%.4g,%.4g]", r.UMin, r.VMin, r.UMax, r.VMax)
}

// Recti is a pixel rectangle with origin at the top-left texel.
type Recti struct {
	X, Y int
	W, H int
}

// IsEmpty reports whether the rectangle has no pixels.
func (r Recti) IsEmpty() bool { return r.W <= 0 || r.H <= 0 }

// ViewportToTextureBounds converts a pixel viewport into normalized bounds of
// a texture with the given dimensions. The result is clamped to [0,1].
//
// It fails with result.ErrInvalidArgument when either dimension is zero or
// the viewport has a negative size.
func ViewportToTextureBounds(vp Recti, width, height int) (Rect, error) {
	if width <= 0 || height <= 0 {
		return Rect{}, fmt.Errorf("%w: texture dimensions %dx%d", result.ErrInvalidArgument, width, height)
	}
	if vp.W < 0 || vp.H < 0 {
		return Rect{}, fmt.Errorf("%w: viewport size %dx%d", result.ErrInvalidArgument, vp.W, vp.H)
	}
	w, h := float64(width), float64(height)
	r := Rect{
		UMin: float64(vp.X) / w,
		VMin: float64(vp.Y) / h,
		UMax: float64(vp.X+vp.W) / w,
		VMax: float64(vp.Y+vp.H) / h,
	}
	return r.Clamp(), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func in01(v float64) bool { return v >= 0 && v <= 1 }
