package backend

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gpucontext"
)

// Factory creates a backend for the application's device. A factory that
// cannot use the device returns an error wrapping ErrDeviceNotSupported.
// A nil device asks for a backend that needs no external device.
type Factory func(device any) (Backend, error)

// registry holds registered backends.
var (
	registry = gpucontext.NewRegistry[Factory](gpucontext.WithPriority(backendPriority...))
	// Priority order for device matching (first backend accepting the device wins).
	backendPriority = []string{NameWGPU, NameSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registry.Register(name, func() Factory { return factory })
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns a list of registered backend names in selection order.
func Available() []string {
	names := registry.Available()
	slices.SortFunc(names, func(a, b string) int {
		pa, pb := priorityOf(a), priorityOf(b)
		if pa != pb {
			return pa - pb
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Open creates the named backend for device.
func Open(name string, device any) (Backend, error) {
	factory := registry.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	return factory(device)
}

// ForDevice returns the first backend, in priority order, that accepts
// device. If preferred is non-empty it is tried first.
func ForDevice(device any, preferred string) (Backend, error) {
	names := Available()
	if preferred != "" {
		if !registry.Has(preferred) {
			return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, preferred)
		}
		names = append([]string{preferred}, slices.DeleteFunc(names, func(n string) bool { return n == preferred })...)
	}

	for _, name := range names {
		b, err := Open(name, device)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrDeviceNotSupported) {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: no backend accepts %T", ErrBackendNotAvailable, device)
}

func priorityOf(name string) int {
	if i := slices.Index(backendPriority, name); i >= 0 {
		return i
	}
	return len(backendPriority)
}
