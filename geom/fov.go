// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package geom

// FlipTargetV selects the V axis convention of textures handed to the host
// compositor. When false, V grows downward (row 0 is the top of the image)
// and FovToTextureBounds maps UpTan to small V values. When true, the V range
// produced by FovToTextureBounds is mirrored.
//
// This is the only place the convention is decided. Per-layer source origins
// are handled separately through Rect.FlipV.
const FlipTargetV = false

// FovPort describes a field of view as tangents of the half-angles from the
// view axis to each edge. All components are positive for a view that
// contains its own axis.
type FovPort struct {
	UpTan    float64
	DownTan  float64
	LeftTan  float64
	RightTan float64
}

// HorizontalSpan returns LeftTan + RightTan.
func (f FovPort) HorizontalSpan() float64 { return f.LeftTan + f.RightTan }

// VerticalSpan returns UpTan + DownTan.
func (f FovPort) VerticalSpan() float64 { return f.UpTan + f.DownTan }

// Contains reports whether every edge of other lies within f.
func (f FovPort) Contains(other FovPort) bool {
	return other.UpTan <= f.UpTan && other.DownTan <= f.DownTan &&
		other.LeftTan <= f.LeftTan && other.RightTan <= f.RightTan
}

// FovToTextureBounds returns the region of a render target spanning the
// reference field of view that an image rendered with eyeFov occupies.
//
// Each bound is (reference component ± actual component) divided by the
// reference span on that axis, clamped to [0,1]:
//
//	uMin = (ref.Left - eye.Left)  / (ref.Left + ref.Right)
//	uMax = (ref.Left + eye.Right) / (ref.Left + ref.Right)
//	vMin = (ref.Up   - eye.Up)    / (ref.Up + ref.Down)
//	vMax = (ref.Up   + eye.Down)  / (ref.Up + ref.Down)
//
// V is mirrored when FlipTargetV is set. A reference with a non-positive span
// on an axis yields the full range on that axis.
func FovToTextureBounds(eyeFov, referenceFov FovPort) Rect {
	dst, _ := FovCrop(eyeFov, referenceFov)
	return dst
}

// FovCrop is FovToTextureBounds that also reports which part of the eye
// image lands inside the reference field of view. crop is relative to the
// eye image, V down from its top edge, and is FullRect when referenceFov
// contains eyeFov. Drawing the crop region of the image into dst keeps its
// angular scale; edges beyond the reference are cut off.
func FovCrop(eyeFov, referenceFov FovPort) (dst, crop Rect) {
	r := FullRect
	if span := referenceFov.HorizontalSpan(); span > 0 {
		r.UMin = (referenceFov.LeftTan - eyeFov.LeftTan) / span
		r.UMax = (referenceFov.LeftTan + eyeFov.RightTan) / span
	}
	if span := referenceFov.VerticalSpan(); span > 0 {
		r.VMin = (referenceFov.UpTan - eyeFov.UpTan) / span
		r.VMax = (referenceFov.UpTan + eyeFov.DownTan) / span
	}
	dst = r.Clamp()

	crop = FullRect
	if w := r.Width(); w > 0 {
		crop.UMin = (dst.UMin - r.UMin) / w
		crop.UMax = (dst.UMax - r.UMin) / w
	}
	if h := r.Height(); h > 0 {
		crop.VMin = (dst.VMin - r.VMin) / h
		crop.VMax = (dst.VMax - r.VMin) / h
	}
	if FlipTargetV {
		dst = dst.FlipV()
	}
	return dst, crop
}

// FovFromProjection recovers the field of view from a right-handed
// perspective projection matrix in row-major order, as produced by
// ProjectionFromFov.
func FovFromProjection(m Matrix4) FovPort {
	sx, sy := m[0][0], m[1][1]
	if sx == 0 || sy == 0 {
		return FovPort{}
	}
	ox := -m[0][2]
	oy := m[1][2]
	return FovPort{
		LeftTan:  (1 + ox) / sx,
		RightTan: (1 - ox) / sx,
		UpTan:    (1 + oy) / sy,
		DownTan:  (1 - oy) / sy,
	}
}

// ProjectionFromFov builds a right-handed perspective projection with depth
// mapped to [0,1] between near and far.
func ProjectionFromFov(f FovPort, near, far float64) Matrix4 {
	sx := 2 / f.HorizontalSpan()
	sy := 2 / f.VerticalSpan()
	ox := (f.LeftTan - f.RightTan) / f.HorizontalSpan()
	oy := (f.UpTan - f.DownTan) / f.VerticalSpan()

	var m Matrix4
	m[0][0] = sx
	m[0][2] = -ox
	m[1][1] = sy
	m[1][2] = oy
	m[2][2] = far / (near - far)
	m[2][3] = far * near / (near - far)
	m[3][2] = -1
	return m
}
