package vrbridge

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/frame"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/hcr"
	"github.com/gogpu/vrbridge/hcr/headless"
	"github.com/gogpu/vrbridge/layer"
	"github.com/gogpu/vrbridge/mirror"
	"github.com/gogpu/vrbridge/swapchain"
)

func newTestSession(t *testing.T, opts ...Option) (*Session, *headless.Runtime) {
	t.Helper()
	rt := headless.New()
	s, err := NewSession(rt, opts...)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, rt
}

// colorChain creates an 8x8 swapchain, fills the current texture with c and
// commits it.
func colorChain(t *testing.T, s *Session, c gputypes.Color) swapchain.Handle {
	t.Helper()
	h, err := s.CreateSwapChain(swapchain.Desc{Format: gputypes.TextureFormatRGBA8Unorm, Width: 8, Height: 8})
	if err != nil {
		t.Fatal(err)
	}
	fillAndCommit(t, s, h, c)
	return h
}

func fillAndCommit(t *testing.T, s *Session, h swapchain.Handle, c gputypes.Color) {
	t.Helper()
	idx, err := s.CurrentIndex(h)
	if err != nil {
		t.Fatal(err)
	}
	tex, err := s.SwapChainTexture(h, idx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Backend().Clear(tex, c); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(h); err != nil {
		t.Fatal(err)
	}
}

func runFrame(t *testing.T, s *Session, index int64, layers ...layer.Layer) error {
	t.Helper()
	if err := s.WaitToBeginFrame(context.Background(), index); err != nil {
		t.Fatalf("WaitToBeginFrame(%d) error = %v", index, err)
	}
	if err := s.BeginFrame(index); err != nil {
		t.Fatalf("BeginFrame(%d) error = %v", index, err)
	}
	return s.EndFrame(index, layers...)
}

func eyes(left, right swapchain.Handle) *layer.EyeFov {
	return layer.NewEyeFov(
		layer.EyeImage{SwapChain: left, Fov: headless.DefaultFov},
		layer.EyeImage{SwapChain: right, Fov: headless.DefaultFov},
	)
}

func pixelAt(t *testing.T, s *Session, tex backend.Texture, x, y int) color.RGBA {
	t.Helper()
	img, err := s.Backend().(backend.PixelReader).ReadPixels(tex)
	if err != nil {
		t.Fatal(err)
	}
	return img.RGBAAt(x, y)
}

func TestSessionFrameBindsCommittedTexture(t *testing.T) {
	s, rt := newTestSession(t)
	h, err := s.CreateSwapChain(swapchain.Desc{Format: gputypes.TextureFormatRGBA8Unorm, Width: 8, Height: 8, Length: 3})
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := s.Commit(h); err != nil {
			t.Fatal(err)
		}
	}
	want, err := s.SwapChainTexture(h, 1)
	if err != nil {
		t.Fatal(err)
	}

	if err := runFrame(t, s, 0, eyes(h, h)); err != nil {
		t.Fatalf("EndFrame() error = %v", err)
	}
	for _, key := range []string{layer.Key(0, "left"), layer.Key(0, "right")} {
		ov, ok := rt.OverlayByKey(key)
		if !ok {
			t.Fatalf("overlay %q missing", key)
		}
		if ov.Texture != want || !ov.Visible {
			t.Errorf("overlay %q = %+v, want texture 1 visible", key, ov)
		}
	}
	if got := rt.Submitted(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Submitted() = %v, want [0]", got)
	}
	if s.Phase() != frame.PhaseIdle {
		t.Errorf("Phase() = %v, want Idle", s.Phase())
	}
}

func TestSessionMirror(t *testing.T) {
	s, _ := newTestSession(t, WithMirrorClearColor(gputypes.Color{G: 1, A: 1}))
	green := color.RGBA{G: 255, A: 255}

	tex, err := s.CreateMirrorTexture(mirror.Desc{Width: 16, Height: 8})
	if err != nil {
		t.Fatal(err)
	}
	if got := pixelAt(t, s, tex, 4, 4); got != green {
		t.Errorf("mirror before first frame = %v, want clear color", got)
	}

	left := colorChain(t, s, gputypes.Color{R: 1, A: 1})
	right := colorChain(t, s, gputypes.Color{B: 1, A: 1})
	if err := runFrame(t, s, 0, eyes(left, right)); err != nil {
		t.Fatal(err)
	}
	if got := pixelAt(t, s, tex, 4, 4); got != (color.RGBA{R: 255, A: 255}) {
		t.Errorf("mirror left half = %v, want red", got)
	}
	if got := pixelAt(t, s, tex, 12, 4); got != (color.RGBA{B: 255, A: 255}) {
		t.Errorf("mirror right half = %v, want blue", got)
	}

	if err := s.DestroyMirrorTexture(nil); ResultOf(err) != InvalidHandle {
		t.Errorf("DestroyMirrorTexture(nil) = %v, want InvalidHandle", err)
	}
	if err := s.DestroyMirrorTexture(tex); err != nil {
		t.Fatal(err)
	}
	if s.MirrorTexture() != nil {
		t.Error("mirror texture still bound")
	}
	if err := s.UpdateMirror(); err != nil {
		t.Errorf("UpdateMirror() without mirror = %v", err)
	}
}

func TestSessionDestroyedSwapChainKeepsOverlays(t *testing.T) {
	s, rt := newTestSession(t)
	a := colorChain(t, s, gputypes.Color{R: 1, A: 1})
	b := colorChain(t, s, gputypes.Color{B: 1, A: 1})
	if err := runFrame(t, s, 0, eyes(a, a)); err != nil {
		t.Fatal(err)
	}
	before := rt.Overlays()
	applies := rt.Applies()

	if err := s.DestroySwapChain(b); err != nil {
		t.Fatal(err)
	}
	err := runFrame(t, s, 1, eyes(a, b))
	if ResultOf(err) != InvalidLayerSource {
		t.Fatalf("EndFrame() = %v, want InvalidLayerSource", err)
	}
	if rt.Applies() != applies {
		t.Error("a failed frame reached the compositor")
	}
	after := rt.Overlays()
	if len(after) != len(before) {
		t.Fatalf("overlays = %d, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i].Texture != before[i].Texture || after[i].Visible != before[i].Visible {
			t.Errorf("overlay %q changed", before[i].Key)
		}
	}

	// The failed frame was consumed.
	if err := runFrame(t, s, 2, eyes(a, a)); err != nil {
		t.Errorf("next frame error = %v", err)
	}
}

// fovHookRuntime runs hook once, inside the first ReferenceFov call. The
// translator asks for the reference field of view after resolving an eye's
// source texture.
type fovHookRuntime struct {
	*headless.Runtime
	once sync.Once
	hook func()
}

func (r *fovHookRuntime) ReferenceFov(eye hcr.Eye) geom.FovPort {
	if r.hook != nil {
		r.once.Do(r.hook)
	}
	return r.Runtime.ReferenceFov(eye)
}

func TestSessionDestroySwapChainDuringEndFrame(t *testing.T) {
	rt := &fovHookRuntime{Runtime: headless.New()}
	s, err := NewSession(rt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	reader := s.Backend().(backend.PixelReader)

	left := colorChain(t, s, gputypes.Color{R: 1, A: 1})
	right := colorChain(t, s, gputypes.Color{B: 1, A: 1})
	leftTex, _, err := s.chains.Committed(left)
	if err != nil {
		t.Fatal(err)
	}

	var destroyErr error
	rt.hook = func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			destroyErr = s.DestroySwapChain(left)
		}()
		<-done
		if _, err := reader.ReadPixels(leftTex); err != nil {
			t.Errorf("texture released while the frame was using it: %v", err)
		}
	}

	if err := runFrame(t, s, 0, eyes(left, right)); err != nil {
		t.Fatalf("EndFrame() error = %v", err)
	}
	if destroyErr != nil {
		t.Fatalf("DestroySwapChain() error = %v", destroyErr)
	}
	if o, _ := rt.OverlayByKey(layer.Key(0, "left")); o.Visible {
		t.Error("overlay still shows the destroyed swapchain")
	}
	if o, _ := rt.OverlayByKey(layer.Key(0, "right")); !o.Visible {
		t.Error("right eye overlay hidden")
	}
	if _, err := reader.ReadPixels(leftTex); ResultOf(err) != InvalidHandle {
		t.Errorf("destroyed texture read err = %v, want InvalidHandle", err)
	}
	if _, err := s.SwapChainLength(left); ResultOf(err) != InvalidHandle {
		t.Errorf("SwapChainLength(destroyed) = %v, want InvalidHandle", err)
	}
	if err := runFrame(t, s, 1, eyes(left, right)); ResultOf(err) != InvalidLayerSource {
		t.Errorf("frame with destroyed source = %v, want InvalidLayerSource", err)
	}
}

func TestSessionDestroyShownSwapChainHidesOverlays(t *testing.T) {
	s, rt := newTestSession(t)
	h := colorChain(t, s, gputypes.Color{R: 1, A: 1})
	if err := runFrame(t, s, 0, eyes(h, h)); err != nil {
		t.Fatal(err)
	}
	if err := s.DestroySwapChain(h); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{layer.Key(0, "left"), layer.Key(0, "right")} {
		if o, _ := rt.OverlayByKey(key); o.Visible {
			t.Errorf("overlay %q still visible after its swapchain was destroyed", key)
		}
	}
}

func TestSessionMirrorFailureKeepsFrame(t *testing.T) {
	s, rt := newTestSession(t)
	tex, err := s.CreateMirrorTexture(mirror.Desc{Width: 16, Height: 8})
	if err != nil {
		t.Fatal(err)
	}
	s.Backend().DestroyTexture(tex)

	h := colorChain(t, s, gputypes.Color{R: 1, A: 1})
	if err := runFrame(t, s, 0, eyes(h, h)); err != nil {
		t.Fatalf("EndFrame() with broken mirror = %v, want nil", err)
	}
	if o, _ := rt.OverlayByKey(layer.Key(0, "left")); !o.Visible {
		t.Error("frame not shown")
	}
	if got := rt.Submitted(); len(got) != 1 {
		t.Errorf("Submitted() = %v, want one frame", got)
	}
	if err := s.UpdateMirror(); ResultOf(err) != InvalidHandle {
		t.Errorf("UpdateMirror() = %v, want InvalidHandle", err)
	}
}

func TestSessionCallOrder(t *testing.T) {
	s, _ := newTestSession(t)
	tests := []struct {
		name string
		call func() error
		want Code
	}{
		{"begin before wait", func() error { return s.BeginFrame(0) }, OutOfOrderFrame},
		{"end before wait", func() error { return s.EndFrame(0) }, CallOutOfOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultOf(tt.call()); got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
		})
	}

	ctx := context.Background()
	if err := s.WaitToBeginFrame(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.WaitToBeginFrame(ctx, 5); ResultOf(err) != CallOutOfOrder {
		t.Errorf("second wait = %v, want CallOutOfOrder", err)
	}
	if err := s.BeginFrame(6); ResultOf(err) != OutOfOrderFrame {
		t.Errorf("BeginFrame(6) = %v, want OutOfOrderFrame", err)
	}
	if err := s.BeginFrame(5); err != nil {
		t.Fatal(err)
	}
	if err := s.EndFrame(5); err != nil {
		t.Fatal(err)
	}
	if err := s.WaitToBeginFrame(ctx, 7); ResultOf(err) != OutOfOrderFrame {
		t.Errorf("skipping a frame = %v, want OutOfOrderFrame", err)
	}
}

func TestSessionNotReadyRetries(t *testing.T) {
	s, rt := newTestSession(t)
	rt.SetNotReady(3)
	if err := s.WaitToBeginFrame(context.Background(), 0); err != nil {
		t.Errorf("WaitToBeginFrame() = %v, want retry to succeed", err)
	}
}

func TestSessionLostDeviceIsTerminal(t *testing.T) {
	s, rt := newTestSession(t)
	rt.LoseDevice()
	if err := s.WaitToBeginFrame(context.Background(), 0); ResultOf(err) != LostDevice {
		t.Fatalf("WaitToBeginFrame() = %v, want LostDevice", err)
	}
	if _, err := s.CreateSwapChain(swapchain.Desc{Format: gputypes.TextureFormatRGBA8Unorm, Width: 4, Height: 4}); !errors.Is(err, ErrLostDevice) {
		t.Errorf("CreateSwapChain after loss = %v, want ErrLostDevice", err)
	}
	if err := s.BeginFrame(0); ResultOf(err) != LostDevice {
		t.Errorf("BeginFrame after loss = %v, want LostDevice", err)
	}
}

func TestSessionCommitBackPressure(t *testing.T) {
	s, _ := newTestSession(t, WithSwapChainLength(2))
	h := colorChain(t, s, gputypes.Color{R: 1, A: 1})
	if err := s.Commit(h); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(h); ResultOf(err) != TooManyCommits {
		t.Fatalf("third commit = %v, want TooManyCommits", err)
	}
	if n, _ := s.SwapChainLength(h); n != 2 {
		t.Errorf("SwapChainLength() = %d, want 2", n)
	}
	if err := runFrame(t, s, 0, eyes(h, h)); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(h); err != nil {
		t.Errorf("commit after frame read = %v", err)
	}
}

func TestSessionOverlayLimitFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Overlays.Max = 1
	s, rt := newTestSession(t, WithConfig(cfg))
	h := colorChain(t, s, gputypes.Color{R: 1, A: 1})
	if err := runFrame(t, s, 0, eyes(h, h)); ResultOf(err) != ResourceExhausted {
		t.Fatalf("EndFrame() = %v, want ResourceExhausted", err)
	}
	if len(rt.Overlays()) != 0 {
		t.Error("exhausted frame created overlays")
	}
	if err := runFrame(t, s, 1, layer.NewQuad(h, geom.Pose{Orientation: geom.IdentityQuat}, geom.Vec2{X: 1, Y: 1})); err != nil {
		t.Errorf("single overlay frame = %v", err)
	}
}

func TestSessionClose(t *testing.T) {
	rt := headless.New()
	s, err := NewSession(rt)
	if err != nil {
		t.Fatal(err)
	}
	h := colorChain(t, s, gputypes.Color{R: 1, A: 1})
	if err := runFrame(t, s, 0, eyes(h, h)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if rt.Destroyed() != 2 {
		t.Errorf("Destroyed() = %d, want 2", rt.Destroyed())
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if err := s.Commit(h); ResultOf(err) != InvalidHandle {
		t.Errorf("Commit after Close = %v, want InvalidHandle", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	a, rtA := newTestSession(t)
	b, _ := newTestSession(t)
	if a.ID() == b.ID() {
		t.Error("sessions share an ID")
	}
	h := colorChain(t, a, gputypes.Color{R: 1, A: 1})
	if err := runFrame(t, a, 0, eyes(h, h)); err != nil {
		t.Fatal(err)
	}
	if err := b.WaitToBeginFrame(context.Background(), 100); err != nil {
		t.Errorf("second session wait = %v", err)
	}
	if len(rtA.Overlays()) != 2 {
		t.Errorf("first runtime overlays = %d, want 2", len(rtA.Overlays()))
	}
}

func TestNewSessionErrors(t *testing.T) {
	tests := []struct {
		name string
		rt   bool
		opts []Option
	}{
		{"nil runtime", false, nil},
		{"short swapchain", true, []Option{WithSwapChainLength(1)}},
		{"no overlays", true, []Option{WithMaxOverlays(0)}},
		{"unknown backend", true, []Option{WithBackendName("vulkan")}},
		{"unsupported device", true, []Option{WithDevice(struct{}{})}},
		{"bad layout", true, []Option{WithMirrorLayout(mirror.Layout(9))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.rt {
				_, err = NewSession(headless.New(), tt.opts...)
			} else {
				_, err = NewSession(nil, tt.opts...)
			}
			if ResultOf(err) != InvalidArgument {
				t.Errorf("NewSession() = %v, want InvalidArgument", err)
			}
		})
	}
}

func depthFrame(t *testing.T, s *Session) backend.Texture {
	t.Helper()
	colorDesc := swapchain.Desc{Format: gputypes.TextureFormatRGBA8Unorm, Width: 40, Height: 40}
	c, err := s.CreateSwapChain(colorDesc)
	if err != nil {
		t.Fatal(err)
	}
	d, err := s.CreateSwapChain(swapchain.Desc{Format: gputypes.TextureFormatDepth32Float, Width: 40, Height: 40})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(c); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(d); err != nil {
		t.Fatal(err)
	}
	l := layer.NewEyeFovDepth(
		layer.EyeImage{SwapChain: c, Viewport: geom.Recti{W: 20, H: 40}, Fov: headless.DefaultFov},
		layer.EyeImage{SwapChain: c, Viewport: geom.Recti{X: 20, W: 20, H: 40}, Fov: headless.DefaultFov},
		d, d,
	)
	if err := runFrame(t, s, 0, l); err != nil {
		t.Fatal(err)
	}
	tex, err := s.SwapChainTexture(d, 1)
	if err != nil {
		t.Fatal(err)
	}
	return tex
}

type depthReader interface {
	DepthAt(tex backend.Texture, x, y int) (float32, error)
}

func TestHiddenAreaMask(t *testing.T) {
	s, _ := newTestSession(t, WithHiddenAreaMask())
	tex := depthFrame(t, s)
	dm := s.Backend().(backend.DepthMasker)
	dr := s.Backend().(depthReader)

	if err := dm.ClearDepth(tex, 0); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		x, y int
		want float32
	}{
		{0, 0, 1},   // left eye, top-left corner
		{20, 0, 1},  // right eye, top-left corner
		{39, 39, 1}, // right eye, bottom-right corner
		{10, 20, 0}, // left eye center
		{30, 20, 0}, // right eye center
	}
	for _, tt := range tests {
		got, err := dr.DepthAt(tex, tt.x, tt.y)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("depth(%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}

	// Clears to another depth are left alone.
	if err := dm.ClearDepth(tex, 0.5); err != nil {
		t.Fatal(err)
	}
	if got, _ := dr.DepthAt(tex, 0, 0); got != 0.5 {
		t.Errorf("depth after 0.5 clear = %v, want 0.5", got)
	}
}

func TestHiddenAreaMaskDisabled(t *testing.T) {
	s, _ := newTestSession(t)
	tex := depthFrame(t, s)
	if err := s.Backend().(backend.DepthMasker).ClearDepth(tex, 0); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Backend().(depthReader).DepthAt(tex, 0, 0); got != 0 {
		t.Errorf("depth(0,0) = %v, want 0 without the mask", got)
	}
}

func TestResultOf(t *testing.T) {
	if ResultOf(nil) != Success {
		t.Error("ResultOf(nil) != Success")
	}
	if ResultOf(errors.New("foreign")) != Unknown {
		t.Error("foreign error not Unknown")
	}
	if ResultOf(ErrTimeout) != Timeout {
		t.Error("ErrTimeout not Timeout")
	}
}
