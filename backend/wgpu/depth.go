// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
	"github.com/gogpu/vrbridge/result"
)

// SetDepthClearedFunc registers the callback invoked after ClearDepth.
func (b *Backend) SetDepthClearedFunc(fn backend.DepthClearedFunc) {
	b.mu.Lock()
	b.onDepthCleared = fn
	b.mu.Unlock()
}

// ClearDepth clears a depth texture to depth, and its stencil aspect to
// zero, then invokes the registered callback without holding the backend
// lock.
func (b *Backend) ClearDepth(tex backend.Texture, depth float32) error {
	if depth < 0 || depth > 1 {
		return fmt.Errorf("%w: clear depth %g", result.ErrInvalidArgument, depth)
	}

	b.mu.Lock()
	t, err := b.lookup(tex)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if !t.format.IsDepthStencil() {
		b.mu.Unlock()
		return fmt.Errorf("%w: clear depth on %s", result.ErrUnsupportedFormat, t.format)
	}
	att := depthAttachment(t, gputypes.LoadOpClear)
	att.DepthClearValue = depth
	err = b.submit("vrbridge_clear_depth", submission{}, func(enc hal.CommandEncoder) {
		enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label:                  "vrbridge_clear_depth",
			DepthStencilAttachment: att,
		}).End()
	})
	fn := b.onDepthCleared
	b.mu.Unlock()

	if err != nil {
		return err
	}
	if fn != nil {
		fn(tex, depth)
	}
	return nil
}

// DrawDepthMask writes depth for the given triangles. Vertices are
// relative to region; a region with VMin > VMax flips them vertically.
func (b *Backend) DrawDepthMask(tex backend.Texture, region geom.Rect, triangles []geom.Vec2, depth float32) error {
	if len(triangles)%3 != 0 {
		return fmt.Errorf("%w: %d mask vertices", result.ErrInvalidArgument, len(triangles))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	t, err := b.lookup(tex)
	if err != nil {
		return err
	}
	if !t.format.IsDepthStencil() {
		return fmt.Errorf("%w: depth mask on %s", result.ErrUnsupportedFormat, t.format)
	}
	if len(triangles) == 0 {
		return nil
	}

	pipeline, err := b.pipelines.mask(t.format)
	if err != nil {
		return b.mapError(err)
	}

	verts := make([]float32, 0, 2*len(triangles))
	for _, v := range triangles {
		verts = append(verts, float32(v.X), float32(v.Y))
	}
	vertexData := packFloats(verts...)
	vb, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "vrbridge_depth_mask_vertices",
		Size:  uint64(len(vertexData)),
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create mask vertex buffer: %w", b.mapError(err))
	}
	if err := b.queue.WriteBuffer(vb, 0, vertexData); err != nil {
		b.device.DestroyBuffer(vb)
		return fmt.Errorf("write mask vertices: %w", b.mapError(err))
	}

	r := region.Clamp()
	params, err := b.uniform("vrbridge_depth_mask_params", packFloats(
		float32(r.UMin), float32(r.VMin), float32(r.UMax), float32(r.VMax),
		depth, 0, 0, 0,
	))
	if err != nil {
		b.device.DestroyBuffer(vb)
		return err
	}
	group, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "vrbridge_depth_mask",
		Layout: b.pipelines.maskLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: params.NativeHandle(), Size: uniformSize}},
		},
	})
	if err != nil {
		b.device.DestroyBuffer(vb)
		b.device.DestroyBuffer(params)
		return fmt.Errorf("create depth mask bind group: %w", b.mapError(err))
	}

	res := submission{buffers: []hal.Buffer{vb, params}, groups: []hal.BindGroup{group}}
	return b.submit("vrbridge_depth_mask", res, func(enc hal.CommandEncoder) {
		pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label:                  "vrbridge_depth_mask",
			DepthStencilAttachment: depthAttachment(t, gputypes.LoadOpLoad),
		})
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, group, nil)
		pass.SetVertexBuffer(0, vb, 0)
		pass.SetViewport(0, 0, float32(t.w), float32(t.h), 0, 1)
		pass.Draw(uint32(len(triangles)), 1, 0, 0)
		pass.End()
	})
}

// depthAttachment describes t as a depth attachment. The stencil aspect is
// cleared or kept along with depth when the format has one.
func depthAttachment(t *texture, load gputypes.LoadOp) *hal.RenderPassDepthStencilAttachment {
	att := &hal.RenderPassDepthStencilAttachment{
		View:         t.view,
		DepthLoadOp:  load,
		DepthStoreOp: gputypes.StoreOpStore,
	}
	if t.format.HasStencil() {
		att.StencilLoadOp = load
		att.StencilStoreOp = gputypes.StoreOpStore
	} else {
		att.StencilReadOnly = true
	}
	return att
}
