package backend

import (
	"errors"
	"image"
	"math/bits"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/vrbridge/geom"
)

// Backend name constants.
const (
	// NameSoftware is the CPU backend backed by image.RGBA textures.
	NameSoftware = "software"
	// NameWGPU is the GPU backend over gogpu/wgpu HAL devices.
	NameWGPU = "wgpu"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrDeviceNotSupported is returned by a Factory that cannot drive the
	// device it was given. Selection moves on to the next backend.
	ErrDeviceNotSupported = errors.New("backend: device type not supported")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend: closed")
)

// Texture is a backend-owned texture. Textures are only valid with the
// backend that created them.
type Texture interface {
	gpucontext.Texture

	// Format returns the texel format.
	Format() gputypes.TextureFormat

	// Label returns the debug label given at creation.
	Label() string
}

// TextureDesc describes a texture to allocate.
type TextureDesc struct {
	Label       string
	Width       int
	Height      int
	ArrayLayers int // 0 means 1
	MipLevels   int // 0 means 1
	SampleCount int // 0 means 1
	Format      gputypes.TextureFormat
	Usage       gputypes.TextureUsage
}

// Extent returns the texture size as a gputypes extent.
func (d TextureDesc) Extent() gputypes.Extent3D {
	return gputypes.Extent3D{
		Width:              uint32(d.Width),
		Height:             uint32(d.Height),
		DepthOrArrayLayers: uint32(orOne(d.ArrayLayers)),
	}
}

// Normalized returns d with zero counts replaced by 1 and a default usage
// when none is given.
func (d TextureDesc) Normalized() TextureDesc {
	d.ArrayLayers = orOne(d.ArrayLayers)
	d.MipLevels = orOne(d.MipLevels)
	d.SampleCount = orOne(d.SampleCount)
	if d.Usage == 0 {
		d.Usage = DefaultUsage(d.Format)
	}
	return d
}

// DefaultUsage returns the usage flags vrbridge needs for a texture of the
// given format: sampled and rendered to, plus copies for color formats.
func DefaultUsage(f gputypes.TextureFormat) gputypes.TextureUsage {
	if f.IsDepthStencil() {
		return gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
	}
	return gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding |
		gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
}

func orOne(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

// BlendMode selects how DrawQuad combines source and destination.
type BlendMode uint8

const (
	// BlendReplace overwrites the destination.
	BlendReplace BlendMode = iota

	// BlendSourceOver composites with
	// dst = src*srcAlpha + dst*(1-srcAlpha).
	BlendSourceOver
)

// State returns the equivalent pipeline blend state.
func (m BlendMode) State() gputypes.BlendState {
	if m == BlendSourceOver {
		return gputypes.BlendStateAlpha()
	}
	return gputypes.BlendStateReplace()
}

// String returns the mode name.
func (m BlendMode) String() string {
	switch m {
	case BlendReplace:
		return "replace"
	case BlendSourceOver:
		return "source-over"
	default:
		return "unknown"
	}
}

// Caps describes what a backend can allocate.
type Caps struct {
	// Formats lists the texture formats CreateTexture accepts.
	Formats []gputypes.TextureFormat

	// Limits carries the dimension and array layer limits.
	Limits gputypes.Limits
}

// SupportsFormat reports whether f is in Formats.
func (c Caps) SupportsFormat(f gputypes.TextureFormat) bool {
	for _, have := range c.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// MaxMipLevels returns the length of a full mip chain for a w x h texture.
func MaxMipLevels(w, h int) int {
	m := max(w, h)
	if m <= 0 {
		return 0
	}
	return bits.Len(uint(m))
}

// Backend is the rendering capability vrbridge drives. One implementation
// exists per graphics API; the session picks one at creation time from the
// device the application supplies.
type Backend interface {
	// Name returns the backend identifier.
	Name() string

	// Caps returns the allocation capabilities.
	Caps() Caps

	// CreateTexture allocates a texture. Errors wrap result.ErrOutOfMemory,
	// result.ErrUnsupportedFormat or result.ErrInvalidArgument.
	CreateTexture(desc TextureDesc) (Texture, error)

	// DestroyTexture releases a texture. Destroying nil or an already
	// destroyed texture is a no-op.
	DestroyTexture(tex Texture)

	// Clear fills dst with c.
	Clear(dst Texture, c gputypes.Color) error

	// DrawQuad draws the srcBounds region of src into the dstBounds region
	// of dst. Bounds are normalized; a source rect with VMin > VMax samples
	// upside down.
	DrawQuad(src Texture, srcBounds geom.Rect, dst Texture, dstBounds geom.Rect, mode BlendMode) error

	// Flush waits until all submitted work has completed.
	Flush() error

	// Close releases every resource held by the backend.
	Close() error
}

// DepthClearedFunc is invoked by a DepthMasker after it cleared tex to depth.
type DepthClearedFunc func(tex Texture, depth float32)

// DepthMasker is implemented by backends that can clear depth textures and
// write a triangle mask into them. It replaces intercepting the
// application's depth clears: the application clears through the backend
// and the backend reports the clear through the registered callback.
type DepthMasker interface {
	// ClearDepth clears a depth texture and then invokes the registered
	// DepthClearedFunc, if any.
	ClearDepth(tex Texture, depth float32) error

	// SetDepthClearedFunc registers fn. Passing nil disables the callback.
	SetDepthClearedFunc(fn DepthClearedFunc)

	// DrawDepthMask writes depth for the given triangles. Vertices are in
	// [0,1] coordinates relative to region, three per triangle.
	DrawDepthMask(tex Texture, region geom.Rect, triangles []geom.Vec2, depth float32) error
}

// PixelWriter is implemented by backends that accept CPU uploads into a
// texture. The image must match the texture size.
type PixelWriter interface {
	WritePixels(tex Texture, img *image.RGBA) error
}

// PixelReader is implemented by backends that can read a texture back.
type PixelReader interface {
	ReadPixels(tex Texture) (*image.RGBA, error)
}
