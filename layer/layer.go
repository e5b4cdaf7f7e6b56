// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package layer describes the composition layers an application submits
// with each frame and translates them into host compositor overlays.
package layer

import (
	"fmt"

	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/swapchain"
)

// Type tags a layer variant.
type Type int

// Layer types.
const (
	TypeDisabled Type = iota
	TypeEyeFov
	TypeEyeFovDepth
	TypeEyeMatrix
	TypeQuad
	TypeCylinder
	TypeCube
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeDisabled:
		return "Disabled"
	case TypeEyeFov:
		return "EyeFov"
	case TypeEyeFovDepth:
		return "EyeFovDepth"
	case TypeEyeMatrix:
		return "EyeMatrix"
	case TypeQuad:
		return "Quad"
	case TypeCylinder:
		return "Cylinder"
	case TypeCube:
		return "Cube"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Flags modify how a layer is shown.
type Flags uint32

const (
	// FlagTextureOriginAtBottomLeft marks source textures whose first row is
	// the bottom of the image.
	FlagTextureOriginAtBottomLeft Flags = 1 << iota
	// FlagHeadLocked attaches quad and cylinder layers to the head pose.
	FlagHeadLocked
	// FlagHighQuality requests higher quality filtering from the compositor.
	FlagHighQuality
)

// Has reports whether f includes flag.
func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Header is common to every layer.
type Header struct {
	Type  Type
	Flags Flags
	// Fade is 0 for fully opaque and 1 for invisible.
	Fade float64
}

// Layer is one entry of a frame's layer list.
type Layer interface {
	LayerHeader() Header
}

// LayerHeader returns h.
func (h Header) LayerHeader() Header { return h }

// EyeImage is one eye's source for an eye-FOV layer.
type EyeImage struct {
	SwapChain swapchain.Handle
	// Viewport selects the pixels of the swapchain texture. An empty
	// viewport selects the whole texture.
	Viewport geom.Recti
	Fov      geom.FovPort
}

// EyeFov is a stereo layer rendered with a per-eye field of view.
type EyeFov struct {
	Header
	Eyes [2]EyeImage
}

// NewEyeFov returns an EyeFov layer with its header type set.
func NewEyeFov(left, right EyeImage) *EyeFov {
	return &EyeFov{Header: Header{Type: TypeEyeFov}, Eyes: [2]EyeImage{left, right}}
}

// EyeFovDepth is an EyeFov layer with per-eye depth swapchains.
type EyeFovDepth struct {
	Header
	Eyes  [2]EyeImage
	Depth [2]swapchain.Handle
	// Near and Far are the clip planes the depth was rendered with.
	Near, Far float64
}

// NewEyeFovDepth returns an EyeFovDepth layer with its header type set.
func NewEyeFovDepth(left, right EyeImage, depthLeft, depthRight swapchain.Handle) *EyeFovDepth {
	return &EyeFovDepth{
		Header: Header{Type: TypeEyeFovDepth},
		Eyes:   [2]EyeImage{left, right},
		Depth:  [2]swapchain.Handle{depthLeft, depthRight},
	}
}

// EyeMatrixImage is one eye's source for an EyeMatrix layer.
type EyeMatrixImage struct {
	SwapChain  swapchain.Handle
	Viewport   geom.Recti
	Projection geom.Matrix4
}

// EyeMatrix is a stereo layer described by projection matrices.
type EyeMatrix struct {
	Header
	Eyes [2]EyeMatrixImage
}

// NewEyeMatrix returns an EyeMatrix layer with its header type set.
func NewEyeMatrix(left, right EyeMatrixImage) *EyeMatrix {
	return &EyeMatrix{Header: Header{Type: TypeEyeMatrix}, Eyes: [2]EyeMatrixImage{left, right}}
}

// Quad is a flat rectangle placed in space.
type Quad struct {
	Header
	SwapChain swapchain.Handle
	Viewport  geom.Recti
	Pose      geom.Pose
	// Size is the quad size in meters.
	Size geom.Vec2
}

// NewQuad returns a Quad layer with its header type set.
func NewQuad(chain swapchain.Handle, pose geom.Pose, size geom.Vec2) *Quad {
	return &Quad{Header: Header{Type: TypeQuad}, SwapChain: chain, Pose: pose, Size: size}
}

// Cylinder is a section of a cylinder around the pose's origin.
type Cylinder struct {
	Header
	SwapChain swapchain.Handle
	Viewport  geom.Recti
	Pose      geom.Pose
	Radius    float64
	// CentralAngle is the arc covered, in radians.
	CentralAngle float64
}

// NewCylinder returns a Cylinder layer with its header type set.
func NewCylinder(chain swapchain.Handle, pose geom.Pose, radius, angle float64) *Cylinder {
	return &Cylinder{
		Header:       Header{Type: TypeCylinder},
		SwapChain:    chain,
		Pose:         pose,
		Radius:       radius,
		CentralAngle: angle,
	}
}

// Cube is an environment cube map. Overlays cannot show it.
type Cube struct {
	Header
	SwapChain   swapchain.Handle
	Orientation geom.Quat
}

// Disabled is a placeholder that keeps a slot in the layer list.
type Disabled struct {
	Header
}
