// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package vrbridge runs applications written against a per-eye, layer-based
// frame submission API on top of an overlay-based host compositor runtime.
//
// # Overview
//
// The application renders into swapchains, then hands the frame's layer
// list to the Session. The Session enforces the frame call order, reads the
// most recently committed texture of every referenced swapchain, and maps
// each layer onto one or more compositor overlays. When an overlay cannot
// show a source texture as is, the layer is first blitted into an
// intermediate texture through the session's rendering backend.
//
// # Quick Start
//
//	rt := headless.New()
//	s, err := vrbridge.NewSession(rt)
//	if err != nil {
//		return err
//	}
//	defer s.Close(context.Background())
//
//	sc, _ := s.CreateSwapChain(swapchain.Desc{Format: gputypes.TextureFormatRGBA8Unorm, Width: 1024, Height: 1024})
//	for i := int64(0); ; i++ {
//		if err := s.WaitToBeginFrame(ctx, i); err != nil {
//			return err
//		}
//		_ = s.BeginFrame(i)
//		// render into s.SwapChainTexture(sc, idx), then s.Commit(sc)
//		_ = s.EndFrame(i, layer.NewEyeFov(left, right))
//	}
//
// # Backends
//
// The session selects a backend from the device passed with WithDevice:
// a nil device selects the CPU backend in package backend/software, a
// gogpu/wgpu HAL device the GPU backend in backend/wgpu. Backends register
// themselves on import.
//
// # Errors
//
// Every Session method returns an error wrapping one of the Err sentinels.
// ResultOf collapses an error to its Code. ErrLostDevice is terminal: the
// session must be recreated.
//
// # Concurrency
//
// One frame is in flight at a time. WaitToBeginFrame may block until the
// compositor is ready, bounded by the configured timeout; BeginFrame and
// EndFrame never block on other application threads and fail with
// ErrCallOutOfOrder instead. Query methods such as CurrentIndex return
// snapshots.
package vrbridge
