package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/backend/software"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/hcr"
	"github.com/gogpu/vrbridge/result"
)

func newTexture(t *testing.T) backend.Texture {
	t.Helper()
	tex, err := software.New().CreateTexture(backend.TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm})
	if err != nil {
		t.Fatal(err)
	}
	return tex
}

func TestApplyIsAtomic(t *testing.T) {
	rt := New()
	a, _ := rt.CreateOverlay("a")
	tex := newTexture(t)

	err := rt.Apply(hcr.Batch{
		{Overlay: a, Texture: tex, Bounds: geom.FullRect, Visible: true},
		{Overlay: 99, Visible: true},
	})
	if !errors.Is(err, hcr.ErrUnknownOverlay) || !errors.Is(err, result.ErrInvalidHandle) {
		t.Fatalf("Apply() err = %v, want ErrUnknownOverlay", err)
	}
	o, _ := rt.Overlay(a)
	if o.Visible || o.Texture != nil {
		t.Errorf("overlay changed by a rejected batch: %+v", o)
	}
	if rt.Applies() != 0 {
		t.Errorf("Applies() = %d, want 0", rt.Applies())
	}
}

func TestHideKeepsBinding(t *testing.T) {
	rt := New()
	a, _ := rt.CreateOverlay("a")
	tex := newTexture(t)
	if err := rt.Apply(hcr.Batch{{Overlay: a, Texture: tex, Bounds: geom.FullRect, Visible: true}}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Apply(hcr.Batch{{Overlay: a}}); err != nil {
		t.Fatal(err)
	}
	o, ok := rt.OverlayByKey("a")
	if !ok || o.Visible || o.Texture != tex {
		t.Errorf("after hide: %+v", o)
	}
}

func TestEyeViewPicksLowestSortOrder(t *testing.T) {
	rt := New()
	back, front := newTexture(t), newTexture(t)
	a, _ := rt.CreateOverlay("front")
	b, _ := rt.CreateOverlay("back")
	c, _ := rt.CreateOverlay("quad")
	err := rt.Apply(hcr.Batch{
		{Overlay: a, Texture: front, Bounds: geom.FullRect, Visible: true,
			Placement: hcr.Placement{Origin: hcr.OriginView, Eyes: hcr.EyeMaskLeft, SortOrder: 1}},
		{Overlay: b, Texture: back, Bounds: geom.Rect{UMax: 0.5, VMax: 1}, Visible: true,
			Placement: hcr.Placement{Origin: hcr.OriginView, Eyes: hcr.EyeMaskLeft}},
		{Overlay: c, Texture: front, Visible: true,
			Placement: hcr.Placement{Origin: hcr.OriginTracking, Eyes: hcr.EyeMaskBoth, SortOrder: -1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tex, bounds, ok := rt.EyeView(hcr.EyeLeft)
	if !ok || tex != back || bounds.UMax != 0.5 {
		t.Errorf("EyeView(left) = %v %v %v", tex, bounds, ok)
	}
	if _, _, ok := rt.EyeView(hcr.EyeRight); ok {
		t.Error("EyeView(right) reported a view")
	}
}

func TestWaitFrameSlot(t *testing.T) {
	rt := New()
	ctx := context.Background()
	if err := rt.WaitFrameSlot(ctx); err != nil {
		t.Fatalf("default wait err = %v", err)
	}

	rt.SetNotReady(2)
	for range 2 {
		if err := rt.WaitFrameSlot(ctx); !errors.Is(err, hcr.ErrNotReady) {
			t.Fatalf("err = %v, want ErrNotReady", err)
		}
	}
	if err := rt.WaitFrameSlot(ctx); err != nil {
		t.Fatalf("err = %v after not-ready budget", err)
	}

	rt.Block()
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := rt.WaitFrameSlot(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocked wait err = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rt.WaitFrameSlot(ctx) }()
	rt.Unblock()
	if err := <-done; err != nil {
		t.Fatalf("unblocked wait err = %v", err)
	}

	rt.LoseDevice()
	if err := rt.WaitFrameSlot(ctx); !errors.Is(err, result.ErrLostDevice) {
		t.Errorf("err = %v, want ErrLostDevice", err)
	}
	if _, err := rt.CreateOverlay("x"); !errors.Is(err, hcr.ErrDeviceLost) {
		t.Errorf("CreateOverlay err = %v, want ErrDeviceLost", err)
	}
}

func TestDestroyOverlay(t *testing.T) {
	rt := New()
	a, _ := rt.CreateOverlay("a")
	b, _ := rt.CreateOverlay("b")
	if a == b {
		t.Fatal("handles reused")
	}
	if err := rt.DestroyOverlay(a); err != nil {
		t.Fatal(err)
	}
	if err := rt.DestroyOverlay(a); !errors.Is(err, hcr.ErrUnknownOverlay) {
		t.Errorf("second destroy err = %v", err)
	}
	if got := rt.Overlays(); len(got) != 1 || got[0].Handle != b {
		t.Errorf("Overlays() = %+v", got)
	}
	if rt.Destroyed() != 1 {
		t.Errorf("Destroyed() = %d", rt.Destroyed())
	}
}

func TestOptions(t *testing.T) {
	wide := geom.FovPort{UpTan: 1, DownTan: 1, LeftTan: 2, RightTan: 1}
	mesh := []geom.Vec2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}
	rt := New(
		WithFormats(gputypes.TextureFormatBGRA8Unorm),
		WithReferenceFov(wide, DefaultFov),
		WithHiddenAreaMesh(mesh, nil),
	)
	if !rt.AcceptsFormat(gputypes.TextureFormatBGRA8Unorm) || rt.AcceptsFormat(gputypes.TextureFormatRGBA8Unorm) {
		t.Error("WithFormats not applied")
	}
	if rt.ReferenceFov(hcr.EyeLeft) != wide || rt.ReferenceFov(hcr.EyeRight) != DefaultFov {
		t.Error("WithReferenceFov not applied")
	}
	if len(rt.HiddenAreaMesh(hcr.EyeLeft)) != 3 || len(rt.HiddenAreaMesh(hcr.EyeRight)) != 0 {
		t.Error("WithHiddenAreaMesh not applied")
	}
	if len(New().HiddenAreaMesh(hcr.EyeRight))%3 != 0 {
		t.Error("default mesh is not a triangle list")
	}
}

func TestFrameSubmitted(t *testing.T) {
	rt := New()
	for i := int64(0); i < 3; i++ {
		if err := rt.FrameSubmitted(i); err != nil {
			t.Fatal(err)
		}
	}
	if got := rt.Submitted(); len(got) != 3 || got[2] != 2 {
		t.Errorf("Submitted() = %v", got)
	}
}
