// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"
	"math"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/result"
)

// SetDepthClearedFunc registers the callback invoked after ClearDepth.
func (b *Backend) SetDepthClearedFunc(fn backend.DepthClearedFunc) {
	b.mu.Lock()
	b.onDepthCleared = fn
	b.mu.Unlock()
}

// ClearDepth sets every texel of a depth texture to depth, then invokes the
// registered callback without holding the backend lock.
func (b *Backend) ClearDepth(tex backend.Texture, depth float32) error {
	b.mu.Lock()
	t, err := b.lookup(tex)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if t.depth == nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: clear depth on %s", result.ErrUnsupportedFormat, t.format)
	}
	for i := range t.depth {
		t.depth[i] = depth
	}
	fn := b.onDepthCleared
	b.mu.Unlock()

	if fn != nil {
		fn(tex, depth)
	}
	return nil
}

// DrawDepthMask rasterizes triangles into region of a depth texture,
// writing depth at every covered texel center. Winding is ignored.
func (b *Backend) DrawDepthMask(tex backend.Texture, region geom.Rect, triangles []geom.Vec2, depth float32) error {
	if len(triangles)%3 != 0 {
		return fmt.Errorf("%w: %d mask vertices", result.ErrInvalidArgument, len(triangles))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(tex)
	if err != nil {
		return err
	}
	if t.depth == nil {
		return fmt.Errorf("%w: depth mask on %s", result.ErrUnsupportedFormat, t.format)
	}

	w, h := float64(t.w), float64(t.h)
	toPixels := func(v geom.Vec2) geom.Vec2 {
		return geom.Vec2{
			X: (region.UMin + v.X*region.Width()) * w,
			Y: (region.VMin + v.Y*region.Height()) * h,
		}
	}
	for i := 0; i < len(triangles); i += 3 {
		fillTriangle(t, toPixels(triangles[i]), toPixels(triangles[i+1]), toPixels(triangles[i+2]), depth)
	}
	return nil
}

// DepthAt returns the depth stored at texel (x, y).
func (b *Backend) DepthAt(tex backend.Texture, x, y int) (float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(tex)
	if err != nil {
		return 0, err
	}
	if t.depth == nil || x < 0 || y < 0 || x >= t.w || y >= t.h {
		return 0, fmt.Errorf("%w: depth texel (%d,%d) of %q", result.ErrInvalidArgument, x, y, t.label)
	}
	return t.depth[y*t.w+x], nil
}

func fillTriangle(t *texture, a, b, c geom.Vec2, depth float32) {
	area := b.Sub(a).Cross(c.Sub(a))
	if area == 0 {
		return
	}
	x0 := max(0, int(math.Floor(min(a.X, b.X, c.X))))
	x1 := min(t.w-1, int(math.Ceil(max(a.X, b.X, c.X))))
	y0 := max(0, int(math.Floor(min(a.Y, b.Y, c.Y))))
	y1 := min(t.h-1, int(math.Ceil(max(a.Y, b.Y, c.Y))))

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			p := geom.Vec2{X: float64(x) + 0.5, Y: float64(y) + 0.5}
			w0 := b.Sub(a).Cross(p.Sub(a))
			w1 := c.Sub(b).Cross(p.Sub(b))
			w2 := a.Sub(c).Cross(p.Sub(c))
			if area < 0 {
				w0, w1, w2 = -w0, -w1, -w2
			}
			if w0 >= 0 && w1 >= 0 && w2 >= 0 {
				t.depth[y*t.w+x] = depth
			}
		}
	}
}
