// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"fmt"
	"image"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/result"
)

// copyPitchAlignment is the required BytesPerRow alignment of texture to
// buffer copies.
const copyPitchAlignment = 256

// WritePixels uploads img into an 8-bit color texture of the same size.
func (b *Backend) WritePixels(tex backend.Texture, img *image.RGBA) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(tex)
	if err != nil {
		return err
	}
	bgra, ok := byteOrder(t.format)
	if !ok {
		return fmt.Errorf("%w: write pixels to %s", result.ErrUnsupportedFormat, t.format)
	}
	if img.Bounds().Dx() != t.w || img.Bounds().Dy() != t.h {
		return fmt.Errorf("%w: image %v for %dx%d texture", result.ErrInvalidArgument, img.Bounds(), t.w, t.h)
	}

	rowBytes := t.w * 4
	data := make([]byte, rowBytes*t.h)
	for y := 0; y < t.h; y++ {
		off := img.PixOffset(img.Bounds().Min.X, img.Bounds().Min.Y+y)
		copy(data[y*rowBytes:(y+1)*rowBytes], img.Pix[off:off+rowBytes])
	}
	if bgra {
		swapRB(data)
	}

	err = b.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.raw, Aspect: gputypes.TextureAspectAll},
		data,
		&hal.ImageDataLayout{BytesPerRow: uint32(rowBytes), RowsPerImage: uint32(t.h)},
		&hal.Extent3D{Width: uint32(t.w), Height: uint32(t.h), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("write texture %q: %w", t.label, b.mapError(err))
	}
	return nil
}

// ReadPixels copies an 8-bit color texture into a new image. It waits for
// all outstanding work.
func (b *Backend) ReadPixels(tex backend.Texture) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(tex)
	if err != nil {
		return nil, err
	}
	bgra, ok := byteOrder(t.format)
	if !ok {
		return nil, fmt.Errorf("%w: read pixels from %s", result.ErrUnsupportedFormat, t.format)
	}

	rowBytes := t.w * 4
	pitch := (rowBytes + copyPitchAlignment - 1) / copyPitchAlignment * copyPitchAlignment
	size := uint64(pitch * t.h)
	staging, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "vrbridge_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create readback buffer: %w", b.mapError(err))
	}
	defer b.device.DestroyBuffer(staging)

	err = b.submit("vrbridge_readback", submission{}, func(enc hal.CommandEncoder) {
		enc.CopyTextureToBuffer(t.raw, staging, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{BytesPerRow: uint32(pitch), RowsPerImage: uint32(t.h)},
			TextureBase:  hal.ImageCopyTexture{Texture: t.raw, Aspect: gputypes.TextureAspectAll},
			Size:         hal.Extent3D{Width: uint32(t.w), Height: uint32(t.h), DepthOrArrayLayers: 1},
		}})
	})
	if err != nil {
		return nil, err
	}
	if err := b.flushLocked(); err != nil {
		return nil, err
	}

	mapping, err := b.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("map readback buffer: %w", b.mapError(err))
	}
	mapped := unsafe.Slice((*byte)(mapping.Ptr), size)

	out := image.NewRGBA(image.Rect(0, 0, t.w, t.h))
	for y := 0; y < t.h; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+rowBytes], mapped[y*pitch:y*pitch+rowBytes])
	}
	if err := b.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("unmap readback buffer: %w", b.mapError(err))
	}
	if bgra {
		swapRB(out.Pix)
	}
	return out, nil
}

// byteOrder reports whether f is an 8-bit color format readable as bytes,
// and whether its channels are stored blue first.
func byteOrder(f gputypes.TextureFormat) (bgra, ok bool) {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		return false, true
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return true, true
	default:
		return false, false
	}
}

// swapRB exchanges the red and blue channels of 4-byte pixels in place.
func swapRB(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}
