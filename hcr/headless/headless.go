// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package headless is an in-process hcr.Runtime. It keeps an overlay table
// instead of presenting anything, which makes it suitable for tests, the
// demo command and offscreen capture.
package headless

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/hcr"
)

// Overlay is a snapshot of one overlay's state.
type Overlay struct {
	Handle    hcr.OverlayHandle
	Key       string
	Texture   backend.Texture
	Bounds    geom.Rect
	Placement hcr.Placement
	Visible   bool
}

// Runtime is an in-process host compositor runtime. It is safe for
// concurrent use.
type Runtime struct {
	mu       sync.Mutex
	next     hcr.OverlayHandle
	overlays map[hcr.OverlayHandle]*Overlay
	formats  []gputypes.TextureFormat
	fov      [2]geom.FovPort
	mesh     [2][]geom.Vec2

	notReady  int
	gate      chan struct{}
	lost      bool
	submitted []int64
	applies   int
	destroyed int

	logger *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithFormats sets the formats overlays accept directly.
func WithFormats(formats ...gputypes.TextureFormat) Option {
	return func(r *Runtime) { r.formats = slices.Clone(formats) }
}

// WithReferenceFov sets the per-eye display field of view.
func WithReferenceFov(left, right geom.FovPort) Option {
	return func(r *Runtime) { r.fov = [2]geom.FovPort{left, right} }
}

// WithHiddenAreaMesh sets the per-eye hidden area triangles.
func WithHiddenAreaMesh(left, right []geom.Vec2) Option {
	return func(r *Runtime) { r.mesh = [2][]geom.Vec2{left, right} }
}

// WithLogger sets the logger for overlay diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// DefaultFov is the symmetric 90 degree field of view used when none is
// configured.
var DefaultFov = geom.FovPort{UpTan: 1, DownTan: 1, LeftTan: 1, RightTan: 1}

// New creates a runtime that accepts RGBA8 textures and reports
// DefaultFov for both eyes.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		next:     1,
		overlays: make(map[hcr.OverlayHandle]*Overlay),
		formats: []gputypes.TextureFormat{
			gputypes.TextureFormatRGBA8Unorm,
			gputypes.TextureFormatRGBA8UnormSrgb,
		},
		fov:    [2]geom.FovPort{DefaultFov, DefaultFov},
		mesh:   [2][]geom.Vec2{cornerMesh(), cornerMesh()},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateOverlay creates a hidden overlay.
func (r *Runtime) CreateOverlay(key string) (hcr.OverlayHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lost {
		return 0, hcr.ErrDeviceLost
	}
	h := r.next
	r.next++
	r.overlays[h] = &Overlay{Handle: h, Key: key}
	r.logger.Debug("headless: overlay created", "overlay", uint64(h), "key", key)
	return h, nil
}

// DestroyOverlay removes an overlay.
func (r *Runtime) DestroyOverlay(h hcr.OverlayHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.overlays[h]; !ok {
		return fmt.Errorf("%w: %d", hcr.ErrUnknownOverlay, h)
	}
	delete(r.overlays, h)
	r.destroyed++
	return nil
}

// Apply validates every update and then applies them under one lock.
func (r *Runtime) Apply(b hcr.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lost {
		return hcr.ErrDeviceLost
	}
	for _, u := range b {
		if _, ok := r.overlays[u.Overlay]; !ok {
			return fmt.Errorf("%w: %d", hcr.ErrUnknownOverlay, u.Overlay)
		}
	}
	for _, u := range b {
		o := r.overlays[u.Overlay]
		if u.Texture != nil {
			o.Texture = u.Texture
			o.Bounds = u.Bounds
			o.Placement = u.Placement
		}
		o.Visible = u.Visible
	}
	r.applies++
	return nil
}

// AcceptsFormat reports whether f is one of the configured formats.
func (r *Runtime) AcceptsFormat(f gputypes.TextureFormat) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.formats, f)
}

// WaitFrameSlot returns nil immediately unless the runtime was told to
// report ErrNotReady, to block, or that the device is lost.
func (r *Runtime) WaitFrameSlot(ctx context.Context) error {
	r.mu.Lock()
	if r.lost {
		r.mu.Unlock()
		return hcr.ErrDeviceLost
	}
	if r.notReady > 0 {
		r.notReady--
		r.mu.Unlock()
		return hcr.ErrNotReady
	}
	gate := r.gate
	r.mu.Unlock()

	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FrameSubmitted records the frame index.
func (r *Runtime) FrameSubmitted(frameIndex int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lost {
		return hcr.ErrDeviceLost
	}
	r.submitted = append(r.submitted, frameIndex)
	return nil
}

// ReferenceFov returns the configured field of view.
func (r *Runtime) ReferenceFov(eye hcr.Eye) geom.FovPort {
	return r.fov[eye&1]
}

// EyeView returns the bottom-most visible overlay that fills the eye's
// view. It is what a compositor would show before any quad is blended on.
func (r *Runtime) EyeView(eye hcr.Eye) (backend.Texture, geom.Rect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Overlay
	for _, o := range r.overlays {
		if !o.Visible || o.Texture == nil || o.Placement.Origin != hcr.OriginView || !o.Placement.Eyes.Has(eye) {
			continue
		}
		if best == nil || o.Placement.SortOrder < best.Placement.SortOrder ||
			(o.Placement.SortOrder == best.Placement.SortOrder && o.Handle < best.Handle) {
			best = o
		}
	}
	if best == nil {
		return nil, geom.Rect{}, false
	}
	return best.Texture, best.Bounds, true
}

// HiddenAreaMesh returns the configured mesh.
func (r *Runtime) HiddenAreaMesh(eye hcr.Eye) []geom.Vec2 {
	return slices.Clone(r.mesh[eye&1])
}

// SetNotReady makes the next n WaitFrameSlot calls return hcr.ErrNotReady.
func (r *Runtime) SetNotReady(n int) {
	r.mu.Lock()
	r.notReady = n
	r.mu.Unlock()
}

// Block makes WaitFrameSlot wait until Unblock or the caller's deadline.
func (r *Runtime) Block() {
	r.mu.Lock()
	if r.gate == nil {
		r.gate = make(chan struct{})
	}
	r.mu.Unlock()
}

// Unblock releases blocked and future WaitFrameSlot calls.
func (r *Runtime) Unblock() {
	r.mu.Lock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
	r.mu.Unlock()
}

// LoseDevice makes every later call report hcr.ErrDeviceLost.
func (r *Runtime) LoseDevice() {
	r.mu.Lock()
	r.lost = true
	r.mu.Unlock()
}

// Overlay returns a snapshot of overlay h.
func (r *Runtime) Overlay(h hcr.OverlayHandle) (Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overlays[h]
	if !ok {
		return Overlay{}, false
	}
	return *o, true
}

// OverlayByKey returns a snapshot of the overlay created with key.
func (r *Runtime) OverlayByKey(key string) (Overlay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.overlays {
		if o.Key == key {
			return *o, true
		}
	}
	return Overlay{}, false
}

// Overlays returns snapshots of every overlay ordered by handle.
func (r *Runtime) Overlays() []Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Overlay, 0, len(r.overlays))
	for _, o := range r.overlays {
		out = append(out, *o)
	}
	slices.SortFunc(out, func(a, b Overlay) int { return cmp.Compare(a.Handle, b.Handle) })
	return out
}

// Submitted returns the frame indices passed to FrameSubmitted.
func (r *Runtime) Submitted() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.submitted)
}

// Applies returns the number of batches applied.
func (r *Runtime) Applies() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applies
}

// Destroyed returns the number of overlays destroyed.
func (r *Runtime) Destroyed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// cornerMesh masks the four corners of the view with one triangle each.
func cornerMesh() []geom.Vec2 {
	const c = 0.15
	return []geom.Vec2{
		{X: 0, Y: 0}, {X: c, Y: 0}, {X: 0, Y: c},
		{X: 1, Y: 0}, {X: 1, Y: c}, {X: 1 - c, Y: 0},
		{X: 0, Y: 1}, {X: 0, Y: 1 - c}, {X: c, Y: 1},
		{X: 1, Y: 1}, {X: 1 - c, Y: 1}, {X: 1, Y: 1 - c},
	}
}

var _ hcr.Runtime = (*Runtime)(nil)
