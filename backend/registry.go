package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpufilter/gpucore"
)

// Back end name constants.
const (
	// NameSoftware is the CPU reference device.
	NameSoftware = "software"
	// NameNative is the Pure Go device on gogpu/wgpu HAL.
	NameNative = "native"
	// NameWGPUNative is the wgpu-native device (cgo).
	NameWGPUNative = "wgpunative"
)

// ErrUnknownBackend is returned by Open for names nobody registered.
var ErrUnknownBackend = errors.New("backend: unknown backend")

// Factory opens a new device.
type Factory func() (gpucore.Device, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Default (first that opens wins).
	priority = []string{NameWGPUNative, NameNative, NameSoftware}
)

// Register registers a back end factory with the given name.
// This is typically called from init() functions in back end packages.
// Registering a name again replaces the previous factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a back end from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered back end names in priority order,
// followed by any others sorted by name.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for _, name := range priority {
		if _, ok := factories[name]; ok {
			names = append(names, name)
		}
	}
	var rest []string
	for name := range factories {
		if !slices.Contains(priority, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// IsRegistered checks if a back end with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens the named back end.
func Open(name string) (gpucore.Device, error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	dev, err := f()
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("backend %s: %w", name, gpucore.ErrDeviceUnavailable)
	}
	return dev, nil
}

// Default opens the first back end that succeeds, in the order reported by
// Available. If none does, the returned error wraps
// gpucore.ErrDeviceUnavailable and every individual failure.
func Default() (gpucore.Device, error) {
	errs := []error{gpucore.ErrDeviceUnavailable}
	for _, name := range Available() {
		dev, err := Open(name)
		if err == nil {
			return dev, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
