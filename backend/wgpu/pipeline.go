// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vrbridge/backend"
	"github.com/gogpu/vrbridge/geom"
)

//go:embed shaders/quad.wgsl
var quadShaderSource string

//go:embed shaders/depth_mask.wgsl
var depthMaskShaderSource string

// uniformSize is the byte size of both shader parameter blocks:
// two vec4<f32>.
const uniformSize = 32

// maskVertexStride is the byte stride of a mask vertex: float32x2.
const maskVertexStride = 8

// compileShader compiles WGSL to SPIR-V and creates a shader module.
func compileShader(device hal.Device, label, source string) (hal.ShaderModule, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile %s shader: %w", label, err)
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: words},
	})
}

type quadKey struct {
	format gputypes.TextureFormat
	mode   backend.BlendMode
}

// pipelines creates render pipelines on first use and caches them. The
// quad pipeline varies by target format and blend mode, the depth mask
// pipeline by depth format. Callers serialize access.
type pipelines struct {
	device hal.Device

	quadShader     hal.ShaderModule
	quadLayout     hal.BindGroupLayout
	quadPipeLayout hal.PipelineLayout
	quads          map[quadKey]hal.RenderPipeline

	maskShader     hal.ShaderModule
	maskLayout     hal.BindGroupLayout
	maskPipeLayout hal.PipelineLayout
	masks          map[gputypes.TextureFormat]hal.RenderPipeline
}

func newPipelines(device hal.Device) *pipelines {
	return &pipelines{
		device: device,
		quads:  make(map[quadKey]hal.RenderPipeline),
		masks:  make(map[gputypes.TextureFormat]hal.RenderPipeline),
	}
}

// ensureQuad creates the quad shader and layouts.
func (p *pipelines) ensureQuad() error {
	if p.quadPipeLayout != nil {
		return nil
	}
	if p.quadShader == nil {
		shader, err := compileShader(p.device, "vrbridge_quad", quadShaderSource)
		if err != nil {
			return err
		}
		p.quadShader = shader
	}
	if p.quadLayout == nil {
		layout, err := p.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: "vrbridge_quad_layout",
			Entries: []gputypes.BindGroupLayoutEntry{
				{
					Binding:    0,
					Visibility: gputypes.ShaderStageVertex,
					Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
				},
				{
					Binding:    1,
					Visibility: gputypes.ShaderStageFragment,
					Texture: &gputypes.TextureBindingLayout{
						SampleType:    gputypes.TextureSampleTypeFloat,
						ViewDimension: gputypes.TextureViewDimension2D,
					},
				},
				{
					Binding:    2,
					Visibility: gputypes.ShaderStageFragment,
					Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("create quad bind group layout: %w", err)
		}
		p.quadLayout = layout
	}
	pipeLayout, err := p.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "vrbridge_quad_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.quadLayout},
	})
	if err != nil {
		return fmt.Errorf("create quad pipeline layout: %w", err)
	}
	p.quadPipeLayout = pipeLayout
	return nil
}

// quad returns the quad pipeline drawing into format with mode.
func (p *pipelines) quad(format gputypes.TextureFormat, mode backend.BlendMode) (hal.RenderPipeline, error) {
	key := quadKey{format: format, mode: mode}
	if rp, ok := p.quads[key]; ok {
		return rp, nil
	}
	if err := p.ensureQuad(); err != nil {
		return nil, err
	}

	blend := mode.State()
	rp, err := p.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("vrbridge_quad_%s_%s", format, mode),
		Layout: p.quadPipeLayout,
		Vertex: hal.VertexState{
			Module:     p.quadShader,
			EntryPoint: "vs_main",
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.DefaultMultisampleState(),
		Fragment: &hal.FragmentState{
			Module:     p.quadShader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    format,
				Blend:     &blend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create quad pipeline for %s: %w", format, err)
	}
	p.quads[key] = rp
	return rp, nil
}

// ensureMask creates the depth mask shader and layouts.
func (p *pipelines) ensureMask() error {
	if p.maskPipeLayout != nil {
		return nil
	}
	if p.maskShader == nil {
		shader, err := compileShader(p.device, "vrbridge_depth_mask", depthMaskShaderSource)
		if err != nil {
			return err
		}
		p.maskShader = shader
	}
	if p.maskLayout == nil {
		layout, err := p.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: "vrbridge_depth_mask_layout",
			Entries: []gputypes.BindGroupLayoutEntry{{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			}},
		})
		if err != nil {
			return fmt.Errorf("create depth mask bind group layout: %w", err)
		}
		p.maskLayout = layout
	}
	pipeLayout, err := p.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "vrbridge_depth_mask_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.maskLayout},
	})
	if err != nil {
		return fmt.Errorf("create depth mask pipeline layout: %w", err)
	}
	p.maskPipeLayout = pipeLayout
	return nil
}

// mask returns the depth-only pipeline for a depth format.
func (p *pipelines) mask(format gputypes.TextureFormat) (hal.RenderPipeline, error) {
	if rp, ok := p.masks[format]; ok {
		return rp, nil
	}
	if err := p.ensureMask(); err != nil {
		return nil, err
	}

	keep := hal.StencilFaceState{
		Compare:     gputypes.CompareFunctionAlways,
		FailOp:      hal.StencilOperationKeep,
		DepthFailOp: hal.StencilOperationKeep,
		PassOp:      hal.StencilOperationKeep,
	}
	rp, err := p.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("vrbridge_depth_mask_%s", format),
		Layout: p.maskPipeLayout,
		Vertex: hal.VertexState{
			Module:     p.maskShader,
			EntryPoint: "vs_main",
			Buffers: []gputypes.VertexBufferLayout{{
				ArrayStride: maskVertexStride,
				StepMode:    gputypes.VertexStepModeVertex,
				Attributes: []gputypes.VertexAttribute{{
					Format:         gputypes.VertexFormatFloat32x2,
					ShaderLocation: 0,
				}},
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		DepthStencil: &hal.DepthStencilState{
			Format:            format,
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionAlways,
			StencilFront:      keep,
			StencilBack:       keep,
		},
		Multisample: gputypes.DefaultMultisampleState(),
	})
	if err != nil {
		return nil, fmt.Errorf("create depth mask pipeline for %s: %w", format, err)
	}
	p.masks[format] = rp
	return rp, nil
}

// destroy releases every pipeline, layout and shader.
func (p *pipelines) destroy() {
	for k, rp := range p.quads {
		p.device.DestroyRenderPipeline(rp)
		delete(p.quads, k)
	}
	for k, rp := range p.masks {
		p.device.DestroyRenderPipeline(rp)
		delete(p.masks, k)
	}
	if p.quadPipeLayout != nil {
		p.device.DestroyPipelineLayout(p.quadPipeLayout)
		p.quadPipeLayout = nil
	}
	if p.maskPipeLayout != nil {
		p.device.DestroyPipelineLayout(p.maskPipeLayout)
		p.maskPipeLayout = nil
	}
	if p.quadLayout != nil {
		p.device.DestroyBindGroupLayout(p.quadLayout)
		p.quadLayout = nil
	}
	if p.maskLayout != nil {
		p.device.DestroyBindGroupLayout(p.maskLayout)
		p.maskLayout = nil
	}
	if p.quadShader != nil {
		p.device.DestroyShaderModule(p.quadShader)
		p.quadShader = nil
	}
	if p.maskShader != nil {
		p.device.DestroyShaderModule(p.maskShader)
		p.maskShader = nil
	}
}

// uniform creates a uniform buffer holding data.
func (b *Backend) uniform(label string, data []byte) (hal.Buffer, error) {
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", label, b.mapError(err))
	}
	if err := b.queue.WriteBuffer(buf, 0, data); err != nil {
		b.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("write %s: %w", label, b.mapError(err))
	}
	return buf, nil
}

// packRects packs two rects as vec4<f32>(u0, v0, u1, v1) each.
func packRects(a, c geom.Rect) []byte {
	return packFloats(
		float32(a.UMin), float32(a.VMin), float32(a.UMax), float32(a.VMax),
		float32(c.UMin), float32(c.VMin), float32(c.UMax), float32(c.VMax),
	)
}

func packFloats(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
