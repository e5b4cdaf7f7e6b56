// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package software implements backend.Backend on the CPU.
//
// Color textures are *image.RGBA (premultiplied alpha, row 0 at the top).
// Depth textures are float32 slices. Blits go through golang.org/x/image/draw
// with draw.Src for replace and draw.Over for source-over blending.
//
// The backend registers itself under backend.NameSoftware and accepts a nil
// device, so it is always available as the fallback.
package software

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/result"
)

func init() {
	backend.Register(backend.NameSoftware, func(device any) (backend.Backend, error) {
		if device != nil {
			return nil, fmt.Errorf("%w: software backend takes no device, got %T", backend.ErrDeviceNotSupported, device)
		}
		return New(), nil
	})
}

// supportedFormats are the formats CreateTexture accepts. BGRA variants are
// stored in RGBA order; channel order is a storage detail on the CPU.
var supportedFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb,
	gputypes.TextureFormatDepth16Unorm,
	gputypes.TextureFormatDepth24Plus,
	gputypes.TextureFormatDepth24PlusStencil8,
	gputypes.TextureFormatDepth32Float,
}

// Backend is the CPU rendering backend. It is safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	textures map[*texture]struct{}
	limits   gputypes.Limits
	budget   int64
	used     int64
	closed   bool

	onDepthCleared backend.DepthClearedFunc
	logger         atomic.Pointer[slog.Logger]
}

// Option configures a Backend.
type Option func(*Backend)

// WithMemoryBudget caps the bytes of texture storage the backend hands out.
// Allocations beyond the budget fail with result.ErrOutOfMemory. Zero means
// unlimited.
func WithMemoryBudget(bytes int64) Option {
	return func(b *Backend) { b.budget = bytes }
}

// WithLimits overrides the dimension limits reported by Caps.
func WithLimits(l gputypes.Limits) Option {
	return func(b *Backend) { b.limits = l }
}

// New creates a software backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		textures: make(map[*texture]struct{}),
		limits:   gputypes.DefaultLimits(),
	}
	b.logger.Store(slog.New(slog.DiscardHandler))
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetLogger sets the logger used for texture lifecycle diagnostics.
func (b *Backend) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	b.logger.Store(l)
}

// Name returns backend.NameSoftware.
func (b *Backend) Name() string { return backend.NameSoftware }

// Caps returns the supported formats and limits.
func (b *Backend) Caps() backend.Caps {
	return backend.Caps{Formats: supportedFormats, Limits: b.limits}
}

// CreateTexture allocates a CPU texture.
func (b *Backend) CreateTexture(desc backend.TextureDesc) (backend.Texture, error) {
	desc = desc.Normalized()
	if desc.Width <= 0 || desc.Height <= 0 ||
		desc.Width > int(b.limits.MaxTextureDimension2D) || desc.Height > int(b.limits.MaxTextureDimension2D) {
		return nil, fmt.Errorf("%w: texture size %dx%d", result.ErrInvalidArgument, desc.Width, desc.Height)
	}
	if !b.Caps().SupportsFormat(desc.Format) {
		return nil, fmt.Errorf("%w: %s", result.ErrUnsupportedFormat, desc.Format)
	}

	size := int64(desc.Width) * int64(desc.Height) * 4 * int64(desc.ArrayLayers)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, backend.ErrClosed
	}
	if b.budget > 0 && b.used+size > b.budget {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", result.ErrOutOfMemory, size, b.used, b.budget)
	}

	t := &texture{
		label:  desc.Label,
		w:      desc.Width,
		h:      desc.Height,
		format: desc.Format,
		size:   size,
	}
	if desc.Format.IsDepthStencil() {
		t.depth = make([]float32, desc.Width*desc.Height)
	} else {
		t.img = image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height))
	}
	b.textures[t] = struct{}{}
	b.used += size

	b.logger.Load().Debug("software: texture created",
		"label", desc.Label, "width", desc.Width, "height", desc.Height, "format", desc.Format.String())
	return t, nil
}

// DestroyTexture releases a texture.
func (b *Backend) DestroyTexture(tex backend.Texture) {
	t, ok := tex.(*texture)
	if !ok || t == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, live := b.textures[t]; !live {
		return
	}
	delete(b.textures, t)
	b.used -= t.size
	t.img = nil
	t.depth = nil
}

// Clear fills a color texture with c.
func (b *Backend) Clear(dst backend.Texture, c gputypes.Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(dst)
	if err != nil {
		return err
	}
	if t.img == nil {
		return fmt.Errorf("%w: clear color on %s", result.ErrUnsupportedFormat, t.format)
	}
	draw.Draw(t.img, t.img.Bounds(), image.NewUniform(premultiplied(c)), image.Point{}, draw.Src)
	return nil
}

// DrawQuad scales the source region into the destination region.
func (b *Backend) DrawQuad(src backend.Texture, srcBounds geom.Rect, dst backend.Texture, dstBounds geom.Rect, mode backend.BlendMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.lookup(src)
	if err != nil {
		return err
	}
	d, err := b.lookup(dst)
	if err != nil {
		return err
	}
	if s.img == nil || d.img == nil {
		return fmt.Errorf("%w: draw between %s and %s", result.ErrUnsupportedFormat, s.format, d.format)
	}

	sr, flipped := pixelRect(srcBounds, s.w, s.h)
	dr, _ := pixelRect(dstBounds, d.w, d.h)
	if sr.Empty() || dr.Empty() {
		return nil
	}

	var srcImg image.Image = s.img
	if flipped {
		fl := flipRows(s.img, sr)
		srcImg, sr = fl, fl.Bounds()
	}

	op := draw.Src
	if mode == backend.BlendSourceOver {
		op = draw.Over
	}
	draw.ApproxBiLinear.Scale(d.img, dr, srcImg, sr, op, nil)
	return nil
}

// Flush is a no-op: CPU work completes synchronously.
func (b *Backend) Flush() error { return nil }

// Close releases all textures. Later calls fail with backend.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t := range b.textures {
		t.img = nil
		t.depth = nil
	}
	clear(b.textures)
	b.used = 0
	b.closed = true
	return nil
}

// WritePixels copies img into a color texture of the same size.
func (b *Backend) WritePixels(tex backend.Texture, img *image.RGBA) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(tex)
	if err != nil {
		return err
	}
	if t.img == nil {
		return fmt.Errorf("%w: write pixels to %s", result.ErrUnsupportedFormat, t.format)
	}
	if img.Bounds().Dx() != t.w || img.Bounds().Dy() != t.h {
		return fmt.Errorf("%w: image %v for %dx%d texture", result.ErrInvalidArgument, img.Bounds(), t.w, t.h)
	}
	draw.Draw(t.img, t.img.Bounds(), img, img.Bounds().Min, draw.Src)
	return nil
}

// ReadPixels returns a copy of a color texture.
func (b *Backend) ReadPixels(tex backend.Texture) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(tex)
	if err != nil {
		return nil, err
	}
	if t.img == nil {
		return nil, fmt.Errorf("%w: read pixels from %s", result.ErrUnsupportedFormat, t.format)
	}
	out := image.NewRGBA(t.img.Bounds())
	copy(out.Pix, t.img.Pix)
	return out, nil
}

// LiveTextures returns the number of textures not yet destroyed.
func (b *Backend) LiveTextures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.textures)
}

// lookup resolves tex to a live texture of this backend. Caller holds b.mu.
func (b *Backend) lookup(tex backend.Texture) (*texture, error) {
	if b.closed {
		return nil, backend.ErrClosed
	}
	t, ok := tex.(*texture)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: texture %T not owned by software backend", result.ErrInvalidHandle, tex)
	}
	if _, live := b.textures[t]; !live {
		return nil, fmt.Errorf("%w: texture %q destroyed", result.ErrInvalidHandle, t.label)
	}
	return t, nil
}

// pixelRect converts normalized bounds to a pixel rectangle and reports
// whether the V range was inverted.
func pixelRect(r geom.Rect, w, h int) (image.Rectangle, bool) {
	flipped := r.VMin > r.VMax
	r = r.Clamp()
	x0, x1 := r.UMin, r.UMax
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	y0, y1 := r.VMin, r.VMax
	if flipped {
		y0, y1 = y1, y0
	}
	return image.Rect(
		roundInt(x0*float64(w)), roundInt(y0*float64(h)),
		roundInt(x1*float64(w)), roundInt(y1*float64(h)),
	), flipped
}

// flipRows returns the region r of img mirrored vertically.
func flipRows(img *image.RGBA, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	rowBytes := r.Dx() * 4
	for y := 0; y < r.Dy(); y++ {
		srcOff := img.PixOffset(r.Min.X, r.Max.Y-1-y)
		copy(out.Pix[y*out.Stride:y*out.Stride+rowBytes], img.Pix[srcOff:srcOff+rowBytes])
	}
	return out
}

func premultiplied(c gputypes.Color) color.RGBA {
	a := unit(c.A)
	return color.RGBA{
		R: to8(unit(c.R) * a),
		G: to8(unit(c.G) * a),
		B: to8(unit(c.B) * a),
		A: to8(a),
	}
}

func unit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func to8(v float64) uint8 { return uint8(v*255 + 0.5) }

func roundInt(v float64) int { return int(v + 0.5) }

// Ensure Backend implements the optional capabilities.
var (
	_ backend.Backend     = (*Backend)(nil)
	_ backend.DepthMasker = (*Backend)(nil)
	_ backend.PixelWriter = (*Backend)(nil)
	_ backend.PixelReader = (*Backend)(nil)
)
