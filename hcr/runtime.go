// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package hcr defines the contract vrbridge consumes from the host
// compositor runtime: named overlays bound to one texture each, an atomic
// batch update primitive, and a frame slot wait/signal pair.
//
// vrbridge is purely a client of the runtime. The headless subpackage
// provides an in-process implementation.
package hcr

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/result"
)

// Runtime errors.
var (
	// ErrNotReady is returned by WaitFrameSlot when no frame slot is free
	// yet. Callers retry until their deadline.
	ErrNotReady = errors.New("hcr: frame slot not ready")

	// ErrDeviceLost reports a non-recoverable device reset.
	ErrDeviceLost = fmt.Errorf("hcr: device lost: %w", result.ErrLostDevice)

	// ErrUnknownOverlay is returned for handles the runtime does not know.
	ErrUnknownOverlay = fmt.Errorf("hcr: unknown overlay: %w", result.ErrInvalidHandle)
)

// OverlayHandle identifies an overlay within one runtime.
type OverlayHandle uint64

// Eye selects one eye.
type Eye int

// Eyes.
const (
	EyeLeft Eye = iota
	EyeRight
)

// Eyes lists both eyes in index order.
var Eyes = [2]Eye{EyeLeft, EyeRight}

// String returns "left" or "right".
func (e Eye) String() string {
	if e == EyeRight {
		return "right"
	}
	return "left"
}

// EyeMask selects the eyes an overlay is shown to.
type EyeMask uint8

// Eye masks.
const (
	EyeMaskLeft EyeMask = 1 << iota
	EyeMaskRight
	EyeMaskBoth = EyeMaskLeft | EyeMaskRight
)

// Has reports whether m includes e.
func (m EyeMask) Has(e Eye) bool { return m&(1<<e) != 0 }

// MaskOf returns the mask containing only e.
func MaskOf(e Eye) EyeMask { return 1 << e }

// Origin is the space an overlay transform is expressed in.
type Origin uint8

const (
	// OriginTracking places the overlay in tracking space.
	OriginTracking Origin = iota
	// OriginHead attaches the overlay to the head pose.
	OriginHead
	// OriginView fills the eye's field of view; the transform is ignored.
	OriginView
)

// Placement positions an overlay.
type Placement struct {
	Transform   geom.Matrix34
	Origin      Origin
	WidthMeters float64 // unused for OriginView
	Curvature   float64 // 0 flat, 1 full cylinder
	Eyes        EyeMask
	SortOrder   int
	Alpha       float64
	HighQuality bool
}

// Update is one overlay change inside a Batch. A nil Texture with
// Visible false only hides the overlay and keeps its previous binding.
type Update struct {
	Overlay   OverlayHandle
	Texture   backend.Texture
	Bounds    geom.Rect
	Placement Placement
	Visible   bool
}

// Batch is a set of updates applied atomically.
type Batch []Update

// Runtime is the host compositor runtime client contract.
type Runtime interface {
	// CreateOverlay creates a hidden overlay. key is a stable debug name.
	CreateOverlay(key string) (OverlayHandle, error)

	// DestroyOverlay destroys an overlay.
	DestroyOverlay(h OverlayHandle) error

	// Apply applies every update or none of them. The compositor never
	// observes a partially applied batch.
	Apply(b Batch) error

	// AcceptsFormat reports whether an overlay can display a texture of
	// format f without conversion.
	AcceptsFormat(f gputypes.TextureFormat) bool

	// WaitFrameSlot blocks until the compositor can accept a new frame, the
	// context ends, or the runtime answers ErrNotReady or ErrDeviceLost.
	WaitFrameSlot(ctx context.Context) error

	// FrameSubmitted signals that the frame's overlay updates are complete.
	FrameSubmitted(frameIndex int64) error

	// ReferenceFov returns the display field of view of an eye.
	ReferenceFov(eye Eye) geom.FovPort

	// EyeView returns the texture and bounds currently presented to an eye,
	// if any, for mirroring.
	EyeView(eye Eye) (backend.Texture, geom.Rect, bool)

	// HiddenAreaMesh returns the triangles, in [0,1] eye viewport
	// coordinates, that the display never shows.
	HiddenAreaMesh(eye Eye) []geom.Vec2
}
