// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/result"
)

func init() {
	backend.Register(backend.NameWGPU, func(device any) (backend.Backend, error) {
		d, q, ok := halDevice(device)
		if !ok {
			return nil, fmt.Errorf("%w: wgpu backend needs a HAL device, got %T", backend.ErrDeviceNotSupported, device)
		}
		return New(d, q)
	})
}

// defaultMaxPending is the number of outstanding submissions after which
// the backend flushes on its own.
const defaultMaxPending = 64

// supportedFormats are the formats CreateTexture accepts.
var supportedFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb,
	gputypes.TextureFormatRGBA16Float,
	gputypes.TextureFormatDepth16Unorm,
	gputypes.TextureFormatDepth24Plus,
	gputypes.TextureFormatDepth24PlusStencil8,
	gputypes.TextureFormatDepth32Float,
}

// halProvider is implemented by device wrappers that expose their HAL
// objects without depending on this package.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// halDevice extracts a HAL device and queue from the values the factory
// accepts.
func halDevice(device any) (hal.Device, hal.Queue, bool) {
	var (
		d hal.Device
		q hal.Queue
	)
	switch v := device.(type) {
	case hal.OpenDevice:
		d, q = v.Device, v.Queue
	case *hal.OpenDevice:
		if v != nil {
			d, q = v.Device, v.Queue
		}
	case halProvider:
		d, _ = v.HalDevice().(hal.Device)
		q, _ = v.HalQueue().(hal.Queue)
	case gpucontext.DeviceProvider:
		d, _ = v.Device().(hal.Device)
		q, _ = v.Queue().(hal.Queue)
	}
	return d, q, d != nil && q != nil
}

// submission is a submitted command buffer together with the transient
// resources it references.
type submission struct {
	cmd     hal.CommandBuffer
	buffers []hal.Buffer
	groups  []hal.BindGroup
}

// Backend renders with a HAL device owned by the application. It is safe
// for concurrent use; operations are serialized.
type Backend struct {
	mu       sync.Mutex
	device   hal.Device
	queue    hal.Queue
	limits   gputypes.Limits
	textures map[*texture]struct{}

	pipelines  *pipelines
	sampler    hal.Sampler
	pending    []submission
	maxPending int

	closed bool
	lost   bool

	onDepthCleared backend.DepthClearedFunc
	logger         atomic.Pointer[slog.Logger]
}

// Option configures a Backend.
type Option func(*Backend)

// WithLimits sets the device limits reported by Caps and enforced by
// CreateTexture. The default is gputypes.DefaultLimits.
func WithLimits(l gputypes.Limits) Option {
	return func(b *Backend) { b.limits = l }
}

// WithMaxPending sets how many submissions may be outstanding before the
// backend waits for the device.
func WithMaxPending(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.maxPending = n
		}
	}
}

// New creates a backend on device and queue. The backend does not take
// ownership of them: Close releases only what the backend created.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Backend, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil HAL device or queue", result.ErrInvalidArgument)
	}
	b := &Backend{
		device:     device,
		queue:      queue,
		limits:     gputypes.DefaultLimits(),
		textures:   make(map[*texture]struct{}),
		maxPending: defaultMaxPending,
	}
	b.logger.Store(slog.New(slog.DiscardHandler))
	for _, opt := range opts {
		opt(b)
	}

	sampler, err := device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "vrbridge_linear_clamp",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
		LodMaxClamp:  32,
	})
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", b.mapError(err))
	}
	b.sampler = sampler
	b.pipelines = newPipelines(device)
	return b, nil
}

// SetLogger sets the logger used for resource and submission diagnostics.
func (b *Backend) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	b.logger.Store(l)
}

// Name returns backend.NameWGPU.
func (b *Backend) Name() string { return backend.NameWGPU }

// Caps returns the supported formats and limits.
func (b *Backend) Caps() backend.Caps {
	return backend.Caps{Formats: supportedFormats, Limits: b.limits}
}

// CreateTexture allocates a 2D texture and its default view.
func (b *Backend) CreateTexture(desc backend.TextureDesc) (backend.Texture, error) {
	desc = desc.Normalized()
	maxDim := int(b.limits.MaxTextureDimension2D)
	if desc.Width <= 0 || desc.Height <= 0 || desc.Width > maxDim || desc.Height > maxDim {
		return nil, fmt.Errorf("%w: texture size %dx%d", result.ErrInvalidArgument, desc.Width, desc.Height)
	}
	if desc.ArrayLayers > int(b.limits.MaxTextureArrayLayers) {
		return nil, fmt.Errorf("%w: %d array layers", result.ErrInvalidArgument, desc.ArrayLayers)
	}
	if desc.MipLevels > backend.MaxMipLevels(desc.Width, desc.Height) {
		return nil, fmt.Errorf("%w: %d mip levels for %dx%d", result.ErrInvalidArgument, desc.MipLevels, desc.Width, desc.Height)
	}
	if !b.Caps().SupportsFormat(desc.Format) {
		return nil, fmt.Errorf("%w: %s", result.ErrUnsupportedFormat, desc.Format)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return nil, err
	}

	raw, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: uint32(desc.ArrayLayers),
		},
		MipLevelCount: uint32(desc.MipLevels),
		SampleCount:   uint32(desc.SampleCount),
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", desc.Label, b.mapError(err))
	}
	view, err := b.device.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          desc.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		b.device.DestroyTexture(raw)
		return nil, fmt.Errorf("create view of %q: %w", desc.Label, b.mapError(err))
	}

	t := &texture{
		label:  desc.Label,
		w:      desc.Width,
		h:      desc.Height,
		format: desc.Format,
		usage:  desc.Usage,
		raw:    raw,
		view:   view,
	}
	b.textures[t] = struct{}{}

	b.logger.Load().Debug("wgpu: texture created",
		"label", desc.Label, "width", desc.Width, "height", desc.Height, "format", desc.Format.String())
	return t, nil
}

// DestroyTexture releases a texture after outstanding work that may use it
// has completed.
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
	if len(b.pending) > 0 && !b.lost {
		if err := b.flushLocked(); err != nil {
			b.logger.Load().Warn("wgpu: flush before texture destroy failed", "label", t.label, "err", err)
		}
	}
	delete(b.textures, t)
	b.release(t)
}

// Clear fills a color texture with c.
func (b *Backend) Clear(dst backend.Texture, c gputypes.Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(dst)
	if err != nil {
		return err
	}
	if t.format.IsDepthStencil() {
		return fmt.Errorf("%w: clear color on %s", result.ErrUnsupportedFormat, t.format)
	}
	return b.submit("vrbridge_clear", submission{}, func(enc hal.CommandEncoder) {
		pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "vrbridge_clear",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       t.view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: c,
			}},
		})
		pass.End()
	})
}

// DrawQuad samples the source region and draws it into the destination
// region. Source and destination must be different color textures.
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
	if s.format.IsDepthStencil() || d.format.IsDepthStencil() {
		return fmt.Errorf("%w: draw between %s and %s", result.ErrUnsupportedFormat, s.format, d.format)
	}
	if s == d {
		return fmt.Errorf("%w: %q drawn onto itself", result.ErrInvalidArgument, s.label)
	}

	sr, dr := srcBounds.Clamp(), dstBounds.Clamp()
	if sr.IsEmpty() || dr.IsEmpty() {
		return nil
	}

	pipeline, err := b.pipelines.quad(d.format, mode)
	if err != nil {
		return b.mapError(err)
	}
	params, err := b.uniform("vrbridge_quad_params", packRects(sr, dr))
	if err != nil {
		return err
	}
	group, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "vrbridge_quad",
		Layout: b.pipelines.quadLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: params.NativeHandle(), Size: uniformSize}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: s.view.NativeHandle()}},
			{Binding: 2, Resource: gputypes.SamplerBinding{Sampler: b.sampler.NativeHandle()}},
		},
	})
	if err != nil {
		b.device.DestroyBuffer(params)
		return fmt.Errorf("create quad bind group: %w", b.mapError(err))
	}

	res := submission{buffers: []hal.Buffer{params}, groups: []hal.BindGroup{group}}
	return b.submit("vrbridge_quad", res, func(enc hal.CommandEncoder) {
		pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "vrbridge_quad",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:    d.view,
				LoadOp:  gputypes.LoadOpLoad,
				StoreOp: gputypes.StoreOpStore,
			}},
		})
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, group, nil)
		pass.SetViewport(0, 0, float32(d.w), float32(d.h), 0, 1)
		pass.Draw(6, 1, 0, 0)
		pass.End()
	})
}

// Flush waits for the device to go idle and releases completed command
// buffers and their transient resources.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return err
	}
	return b.flushLocked()
}

// Close waits for outstanding work and releases every resource the backend
// created. The HAL device itself stays with the application. Later calls
// fail with backend.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	var err error
	if !b.lost {
		err = b.flushLocked()
	}
	b.releasePending()
	for t := range b.textures {
		b.release(t)
	}
	clear(b.textures)
	b.pipelines.destroy()
	if b.sampler != nil {
		b.device.DestroySampler(b.sampler)
		b.sampler = nil
	}
	b.closed = true
	return err
}

// LiveTextures returns the number of textures not yet destroyed.
func (b *Backend) LiveTextures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.textures)
}

// submit records commands into a fresh encoder and submits them. The
// transient resources in res are released once the submission completes.
// Caller holds b.mu.
func (b *Backend) submit(label string, res submission, record func(enc hal.CommandEncoder)) error {
	fail := func(err error) error {
		b.releaseSubmission(res)
		return fmt.Errorf("%s: %w", label, b.mapError(err))
	}

	enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fail(err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return fail(err)
	}
	record(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fail(err)
	}
	if _, err := b.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		b.device.FreeCommandBuffer(cmd)
		return fail(err)
	}

	res.cmd = cmd
	b.pending = append(b.pending, res)
	if len(b.pending) >= b.maxPending {
		return b.flushLocked()
	}
	return nil
}

// flushLocked waits for the device and releases pending submissions.
// Caller holds b.mu.
func (b *Backend) flushLocked() error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.device.WaitIdle(); err != nil {
		return fmt.Errorf("wait idle: %w", b.mapError(err))
	}
	n := len(b.pending)
	b.releasePending()
	b.logger.Load().Debug("wgpu: flushed", "submissions", n)
	return nil
}

func (b *Backend) releasePending() {
	for _, s := range b.pending {
		if s.cmd != nil {
			b.device.FreeCommandBuffer(s.cmd)
		}
		b.releaseSubmission(s)
	}
	b.pending = b.pending[:0]
}

func (b *Backend) releaseSubmission(s submission) {
	for _, g := range s.groups {
		b.device.DestroyBindGroup(g)
	}
	for _, buf := range s.buffers {
		b.device.DestroyBuffer(buf)
	}
}

func (b *Backend) release(t *texture) {
	if t.view != nil {
		b.device.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.raw != nil {
		b.device.DestroyTexture(t.raw)
		t.raw = nil
	}
}

// usable reports whether the backend can accept work. Caller holds b.mu.
func (b *Backend) usable() error {
	if b.closed {
		return backend.ErrClosed
	}
	if b.lost {
		return fmt.Errorf("%w: wgpu device lost", result.ErrLostDevice)
	}
	return nil
}

// lookup resolves tex to a live texture of this backend. Caller holds b.mu.
func (b *Backend) lookup(tex backend.Texture) (*texture, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	t, ok := tex.(*texture)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: texture %T not owned by wgpu backend", result.ErrInvalidHandle, tex)
	}
	if _, live := b.textures[t]; !live {
		return nil, fmt.Errorf("%w: texture %q destroyed", result.ErrInvalidHandle, t.label)
	}
	return t, nil
}

// mapError translates HAL errors into vrbridge result errors. A lost device
// marks the backend unusable. Caller holds b.mu or owns b exclusively.
func (b *Backend) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrDeviceLost):
		if !b.lost {
			b.lost = true
			b.logger.Load().Error("wgpu: device lost", "err", err)
		}
		return fmt.Errorf("%w: %w", result.ErrLostDevice, err)
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return fmt.Errorf("%w: %w", result.ErrOutOfMemory, err)
	case errors.Is(err, hal.ErrTimeout):
		return fmt.Errorf("%w: %w", result.ErrTimeout, err)
	default:
		return err
	}
}

// Ensure Backend implements the optional capabilities.
var (
	_ backend.Backend     = (*Backend)(nil)
	_ backend.DepthMasker = (*Backend)(nil)
	_ backend.PixelWriter = (*Backend)(nil)
	_ backend.PixelReader = (*Backend)(nil)
)
