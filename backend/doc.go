// Package backend defines the rendering capability vrbridge consumes and the
// registry that picks an implementation for the application's device.
//
// vrbridge never talks to a graphics API directly. Everything it needs from
// the GPU is expressed by Backend: allocate and destroy textures, clear a
// texture, and draw a normalized region of one texture into a normalized
// region of another with either replace or source-over blending.
//
// # Backend Registration
//
// Backends register a Factory from init() functions:
//
//	import _ "github.com/gogpu/vrbridge/backend/wgpu"
//
// The software backend is registered by importing backend/software, which
// the root vrbridge package does.
//
// # Backend Selection
//
// ForDevice walks the registered backends in priority order and returns the
// first whose factory accepts the device:
//
//	b, err := backend.ForDevice(openDevice, "")
//
// The wgpu backend accepts hal.OpenDevice values and gpucontext.DeviceProvider
// implementations backed by HAL objects. The software backend accepts a nil
// device.
//
// # Optional Capabilities
//
//   - DepthMasker: depth clears with a completion callback and triangle masks
//   - PixelWriter: CPU uploads into textures
//   - PixelReader: CPU readback
package backend
