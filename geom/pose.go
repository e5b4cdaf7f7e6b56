// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package geom

import "math"

// Vec2 is a 2D point or vector.
type Vec2 struct {
	X, Y float64
}

// Add returns the sum of two vectors.
func (v Vec2) Add(w Vec2) Vec2 { return Vec2{X: v.X + w.X, Y: v.Y + w.Y} }

// Sub returns the difference of two vectors.
func (v Vec2) Sub(w Vec2) Vec2 { return Vec2{X: v.X - w.X, Y: v.Y - w.Y} }

// Cross returns the 2D cross product (scalar).
func (v Vec2) Cross(w Vec2) float64 { return v.X*w.Y - v.Y*w.X }

// Vec3 is a 3D vector in meters.
type Vec3 struct {
	X, Y, Z float64
}

// Quat is a rotation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat is the zero rotation.
var IdentityQuat = Quat{W: 1}

// Normalize returns q scaled to unit length. The zero quaternion becomes
// the identity.
func (q Quat) Normalize() Quat {
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		return IdentityQuat
	}
	return Quat{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}

// Pose is a rigid transform: orientation followed by translation.
type Pose struct {
	Orientation Quat
	Position    Vec3
}

// Matrix34 is a row-major 3x4 affine transform, the layout host compositors
// use for overlay placement.
//
//	| m00 m01 m02 tx |
//	| m10 m11 m12 ty |
//	| m20 m21 m22 tz |
type Matrix34 [3][4]float64

// Identity34 is the identity transform.
var Identity34 = Matrix34{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}

// Matrix returns p as a 3x4 transform.
func (p Pose) Matrix() Matrix34 {
	q := p.Orientation.Normalize()
	xx, yy, zz := q.X*q.X, q.Y*q.Y, q.Z*q.Z
	xy, xz, yz := q.X*q.Y, q.X*q.Z, q.Y*q.Z
	wx, wy, wz := q.W*q.X, q.W*q.Y, q.W*q.Z

	return Matrix34{
		{1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy), p.Position.X},
		{2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx), p.Position.Y},
		{2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy), p.Position.Z},
	}
}

// Apply transforms the point v.
func (m Matrix34) Apply(v Vec3) Vec3 {
	return Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z + m[0][3],
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z + m[1][3],
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z + m[2][3],
	}
}

// Matrix4 is a row-major 4x4 matrix.
type Matrix4 [4][4]float64
