package software

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/result"
)

func newColorTexture(t *testing.T, b *Backend, w, h int) backend.Texture {
	t.Helper()
	tex, err := b.CreateTexture(backend.TextureDesc{
		Label:  "test",
		Width:  w,
		Height: h,
		Format: gputypes.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	return tex
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func near(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -2 && d <= 2
}

func colorNear(a, b color.RGBA) bool {
	return near(a.R, b.R) && near(a.G, b.G) && near(a.B, b.B) && near(a.A, b.A)
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func TestCreateTextureValidation(t *testing.T) {
	b := New()
	tests := []struct {
		name string
		desc backend.TextureDesc
		want error
	}{
		{"zero size", backend.TextureDesc{Format: gputypes.TextureFormatRGBA8Unorm}, result.ErrInvalidArgument},
		{"too large", backend.TextureDesc{Width: 1 << 20, Height: 1, Format: gputypes.TextureFormatRGBA8Unorm}, result.ErrInvalidArgument},
		{"unsupported", backend.TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA16Float}, result.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.CreateTexture(tt.desc)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateTextureBudget(t *testing.T) {
	b := New(WithMemoryBudget(2 * 4 * 4 * 4))
	newColorTexture(t, b, 4, 4)
	second := newColorTexture(t, b, 4, 4)
	if _, err := b.CreateTexture(backend.TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm}); !errors.Is(err, result.ErrOutOfMemory) {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
	b.DestroyTexture(second)
	newColorTexture(t, b, 4, 4)
	if b.LiveTextures() != 2 {
		t.Errorf("LiveTextures() = %d, want 2", b.LiveTextures())
	}
}

func TestClearAndRead(t *testing.T) {
	b := New()
	tex := newColorTexture(t, b, 3, 2)
	if err := b.Clear(tex, gputypes.Color{R: 1, A: 1}); err != nil {
		t.Fatal(err)
	}
	img, err := b.ReadPixels(tex)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(2, 1); got != red {
		t.Errorf("pixel = %v, want %v", got, red)
	}

	if err := b.Clear(tex, gputypes.Color{R: 1, A: 0.5}); err != nil {
		t.Fatal(err)
	}
	img, _ = b.ReadPixels(tex)
	if got := img.RGBAAt(0, 0); !colorNear(got, color.RGBA{R: 128, A: 128}) {
		t.Errorf("half transparent clear = %v, want premultiplied", got)
	}
}

func TestDrawQuadReplace(t *testing.T) {
	b := New()
	src := newColorTexture(t, b, 8, 4)
	dst := newColorTexture(t, b, 4, 4)

	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	fill(img, image.Rect(0, 0, 4, 4), red)
	fill(img, image.Rect(4, 0, 8, 4), blue)
	if err := b.WritePixels(src, img); err != nil {
		t.Fatal(err)
	}

	if err := b.DrawQuad(src, geom.Rect{UMin: 0.5, VMin: 0, UMax: 1, VMax: 1}, dst, geom.FullRect, backend.BlendReplace); err != nil {
		t.Fatal(err)
	}
	out, _ := b.ReadPixels(dst)
	for _, p := range []image.Point{{1, 1}, {2, 2}} {
		if got := out.RGBAAt(p.X, p.Y); got != blue {
			t.Errorf("pixel %v = %v, want blue", p, got)
		}
	}
}

func TestDrawQuadIntoRegion(t *testing.T) {
	b := New()
	src := newColorTexture(t, b, 2, 2)
	dst := newColorTexture(t, b, 8, 4)
	if err := b.Clear(src, gputypes.Color{R: 1, A: 1}); err != nil {
		t.Fatal(err)
	}

	if err := b.DrawQuad(src, geom.FullRect, dst, geom.Rect{UMin: 0.5, VMin: 0, UMax: 1, VMax: 1}, backend.BlendReplace); err != nil {
		t.Fatal(err)
	}
	out, _ := b.ReadPixels(dst)
	if got := out.RGBAAt(1, 1); got != (color.RGBA{}) {
		t.Errorf("left half = %v, want untouched", got)
	}
	if got := out.RGBAAt(6, 2); got != red {
		t.Errorf("right half = %v, want red", got)
	}
}

func TestDrawQuadSourceOver(t *testing.T) {
	b := New()
	src := newColorTexture(t, b, 4, 4)
	dst := newColorTexture(t, b, 4, 4)
	if err := b.Clear(dst, gputypes.Color{B: 1, A: 1}); err != nil {
		t.Fatal(err)
	}
	if err := b.Clear(src, gputypes.Color{R: 1, A: 0.5}); err != nil {
		t.Fatal(err)
	}

	if err := b.DrawQuad(src, geom.FullRect, dst, geom.FullRect, backend.BlendSourceOver); err != nil {
		t.Fatal(err)
	}
	out, _ := b.ReadPixels(dst)
	want := color.RGBA{R: 128, B: 127, A: 255}
	if got := out.RGBAAt(2, 2); !colorNear(got, want) {
		t.Errorf("source-over = %v, want %v", got, want)
	}
}

func TestDrawQuadFlippedSource(t *testing.T) {
	b := New()
	src := newColorTexture(t, b, 2, 2)
	dst := newColorTexture(t, b, 2, 2)

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	fill(img, image.Rect(0, 0, 2, 1), red)
	fill(img, image.Rect(0, 1, 2, 2), blue)
	if err := b.WritePixels(src, img); err != nil {
		t.Fatal(err)
	}

	if err := b.DrawQuad(src, geom.FullRect.FlipV(), dst, geom.FullRect, backend.BlendReplace); err != nil {
		t.Fatal(err)
	}
	out, _ := b.ReadPixels(dst)
	if got := out.RGBAAt(0, 0); got != blue {
		t.Errorf("top row = %v, want blue", got)
	}
	if got := out.RGBAAt(0, 1); got != red {
		t.Errorf("bottom row = %v, want red", got)
	}
}

func TestDestroyedTextureRejected(t *testing.T) {
	b := New()
	tex := newColorTexture(t, b, 2, 2)
	b.DestroyTexture(tex)
	b.DestroyTexture(tex)

	if err := b.Clear(tex, gputypes.Color{}); !errors.Is(err, result.ErrInvalidHandle) {
		t.Errorf("Clear() err = %v, want ErrInvalidHandle", err)
	}
	other := New()
	foreign := newColorTexture(t, other, 2, 2)
	if err := b.Clear(foreign, gputypes.Color{}); !errors.Is(err, result.ErrInvalidHandle) {
		t.Errorf("foreign texture err = %v, want ErrInvalidHandle", err)
	}
}

func TestClose(t *testing.T) {
	b := New()
	tex := newColorTexture(t, b, 2, 2)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Clear(tex, gputypes.Color{}); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if _, err := b.CreateTexture(backend.TextureDesc{Width: 1, Height: 1, Format: gputypes.TextureFormatRGBA8Unorm}); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestWritePixelsSizeMismatch(t *testing.T) {
	b := New()
	tex := newColorTexture(t, b, 2, 2)
	if err := b.WritePixels(tex, image.NewRGBA(image.Rect(0, 0, 3, 2))); !errors.Is(err, result.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestDepthClearCallbackAndMask(t *testing.T) {
	b := New()
	depth, err := b.CreateTexture(backend.TextureDesc{Width: 8, Height: 4, Format: gputypes.TextureFormatDepth32Float})
	if err != nil {
		t.Fatal(err)
	}

	var calls int
	var gotDepth float32 = -1
	b.SetDepthClearedFunc(func(tex backend.Texture, d float32) {
		calls++
		gotDepth = d
		if tex != depth {
			t.Error("callback received a different texture")
		}
	})

	if err := b.ClearDepth(depth, 0); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || gotDepth != 0 {
		t.Fatalf("callback calls=%d depth=%v", calls, gotDepth)
	}

	// Lower-left triangle of the right half.
	tri := []geom.Vec2{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}
	if err := b.DrawDepthMask(depth, geom.Rect{UMin: 0.5, VMin: 0, UMax: 1, VMax: 1}, tri, 1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		x, y int
		want float32
	}{
		{4, 3, 1}, // inside
		{7, 0, 0}, // upper-right corner of the region, outside the triangle
		{1, 3, 0}, // left half untouched
	}
	for _, tt := range tests {
		got, err := b.DepthAt(depth, tt.x, tt.y)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("DepthAt(%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}

	if err := b.DrawDepthMask(depth, geom.FullRect, tri[:2], 1); !errors.Is(err, result.ErrInvalidArgument) {
		t.Errorf("partial triangle err = %v, want ErrInvalidArgument", err)
	}
	colorTex := newColorTexture(t, b, 2, 2)
	if err := b.ClearDepth(colorTex, 0); !errors.Is(err, result.ErrUnsupportedFormat) {
		t.Errorf("ClearDepth(color) err = %v, want ErrUnsupportedFormat", err)
	}
	if err := b.DrawQuad(depth, geom.FullRect, colorTex, geom.FullRect, backend.BlendReplace); !errors.Is(err, result.ErrUnsupportedFormat) {
		t.Errorf("DrawQuad(depth) err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestRegisteredForNilDevice(t *testing.T) {
	b, err := backend.ForDevice(nil, backend.NameSoftware)
	if err != nil {
		t.Fatalf("ForDevice(nil) error = %v", err)
	}
	if b.Name() != backend.NameSoftware {
		t.Errorf("Name() = %q", b.Name())
	}
	if _, err := backend.Open(backend.NameSoftware, struct{}{}); !errors.Is(err, backend.ErrDeviceNotSupported) {
		t.Errorf("Open(device) err = %v, want ErrDeviceNotSupported", err)
	}
}
