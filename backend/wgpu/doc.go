// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package wgpu implements backend.Backend on a gogpu/wgpu HAL device.
//
// The application passes its own device, so vrbridge textures live next to
// the application's rendering resources and swapchain images never leave
// the GPU. Any of these device values is accepted:
//
//   - hal.OpenDevice or *hal.OpenDevice
//   - a value with HalDevice() and HalQueue() accessors
//   - a gpucontext.DeviceProvider whose Device and Queue are HAL objects
//
// # Rendering
//
// Clear and ClearDepth record a render pass with a clear load op. DrawQuad
// samples the source region with a linear clamp-to-edge sampler and draws
// it into the destination region through a pipeline cached per target
// format and blend mode. DrawDepthMask draws the mask triangles through a
// depth-only pipeline with depth compare Always.
//
// Shaders are WGSL, compiled to SPIR-V with gogpu/naga the first time a
// pipeline needs them.
//
// # Submission
//
// Every operation is submitted immediately. Command buffers and their
// transient buffers are released by Flush, which waits for the device to go
// idle; the backend also flushes on its own once enough submissions are
// outstanding.
//
// # Errors
//
// HAL out-of-memory errors wrap result.ErrOutOfMemory. A lost device wraps
// result.ErrLostDevice and is terminal for the backend.
package wgpu
