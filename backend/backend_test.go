package backend

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/geom"
)

type stubBackend struct{ name string }

func (b *stubBackend) Name() string                               { return b.name }
func (b *stubBackend) Caps() Caps                                 { return Caps{} }
func (b *stubBackend) CreateTexture(TextureDesc) (Texture, error) { return nil, nil }
func (b *stubBackend) DestroyTexture(Texture)                     {}
func (b *stubBackend) Clear(Texture, gputypes.Color) error        { return nil }
func (b *stubBackend) Flush() error                               { return nil }
func (b *stubBackend) Close() error                               { return nil }
func (b *stubBackend) DrawQuad(Texture, geom.Rect, Texture, geom.Rect, BlendMode) error {
	return nil
}

type fakeDevice struct{}

func registerStubs(t *testing.T) {
	t.Helper()
	prev := Available()
	for _, n := range prev {
		Unregister(n)
	}

	Register(NameSoftware, func(device any) (Backend, error) {
		if device != nil {
			return nil, ErrDeviceNotSupported
		}
		return &stubBackend{name: NameSoftware}, nil
	})
	Register(NameWGPU, func(device any) (Backend, error) {
		if _, ok := device.(fakeDevice); !ok {
			return nil, fmt.Errorf("%w: %T", ErrDeviceNotSupported, device)
		}
		return &stubBackend{name: NameWGPU}, nil
	})
	t.Cleanup(func() {
		Unregister(NameSoftware)
		Unregister(NameWGPU)
	})
}

func TestForDeviceSelection(t *testing.T) {
	registerStubs(t)

	tests := []struct {
		name      string
		device    any
		preferred string
		want      string
	}{
		{"nil device picks software", nil, "", NameSoftware},
		{"hal device picks wgpu", fakeDevice{}, "", NameWGPU},
		{"preferred software falls through for gpu device", fakeDevice{}, NameSoftware, NameWGPU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ForDevice(tt.device, tt.preferred)
			if err != nil {
				t.Fatalf("ForDevice() error = %v", err)
			}
			if b.Name() != tt.want {
				t.Errorf("ForDevice() = %q, want %q", b.Name(), tt.want)
			}
		})
	}
}

func TestForDeviceNoMatch(t *testing.T) {
	registerStubs(t)
	_, err := ForDevice(42, "")
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("err = %v, want ErrBackendNotAvailable", err)
	}
}

func TestForDeviceUnknownPreferred(t *testing.T) {
	registerStubs(t)
	_, err := ForDevice(nil, "vulkan")
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("err = %v, want ErrBackendNotAvailable", err)
	}
}

func TestForDeviceFactoryError(t *testing.T) {
	registerStubs(t)
	boom := errors.New("boom")
	Register("broken", func(any) (Backend, error) { return nil, boom })
	t.Cleanup(func() { Unregister("broken") })

	_, err := ForDevice(42, "broken")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestAvailableOrder(t *testing.T) {
	registerStubs(t)
	Register("zz", func(any) (Backend, error) { return nil, ErrDeviceNotSupported })
	t.Cleanup(func() { Unregister("zz") })

	got := Available()
	want := []string{NameWGPU, NameSoftware, "zz"}
	if !slices.Equal(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}
	if !IsRegistered("zz") || IsRegistered("missing") {
		t.Error("IsRegistered mismatch")
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open("missing", nil); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("err = %v, want ErrBackendNotAvailable", err)
	}
}

func TestBlendModeState(t *testing.T) {
	if got := BlendReplace.State(); got != gputypes.BlendStateReplace() {
		t.Errorf("BlendReplace.State() = %+v", got)
	}
	if got := BlendSourceOver.State(); got != gputypes.BlendStateAlpha() {
		t.Errorf("BlendSourceOver.State() = %+v", got)
	}
	if BlendSourceOver.String() != "source-over" || BlendMode(9).String() != "unknown" {
		t.Error("String() mismatch")
	}
}

func TestTextureDescNormalized(t *testing.T) {
	d := TextureDesc{Width: 4, Height: 2, Format: gputypes.TextureFormatRGBA8Unorm}.Normalized()
	if d.ArrayLayers != 1 || d.MipLevels != 1 || d.SampleCount != 1 {
		t.Errorf("Normalized() = %+v", d)
	}
	if !d.Usage.Contains(gputypes.TextureUsageTextureBinding) {
		t.Error("default usage must include TextureBinding")
	}
	if e := d.Extent(); e.Width != 4 || e.Height != 2 || e.DepthOrArrayLayers != 1 {
		t.Errorf("Extent() = %+v", e)
	}

	dd := TextureDesc{Format: gputypes.TextureFormatDepth32Float}.Normalized()
	if dd.Usage.Contains(gputypes.TextureUsageCopySrc) {
		t.Error("depth usage must not include CopySrc")
	}
}

func TestMaxMipLevels(t *testing.T) {
	tests := []struct{ w, h, want int }{
		{1, 1, 1},
		{2, 1, 2},
		{256, 128, 9},
		{1000, 10, 10},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := MaxMipLevels(tt.w, tt.h); got != tt.want {
			t.Errorf("MaxMipLevels(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestCapsSupportsFormat(t *testing.T) {
	c := Caps{Formats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}}
	if !c.SupportsFormat(gputypes.TextureFormatRGBA8Unorm) {
		t.Error("expected RGBA8Unorm supported")
	}
	if c.SupportsFormat(gputypes.TextureFormatBGRA8Unorm) {
		t.Error("expected BGRA8Unorm unsupported")
	}
}
