package native

import (
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gpufilter/backend"
	"github.com/gogpu/gpufilter/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Config selects and configures the HAL device opened by Open.
type Config struct {
	// Backend is the HAL back end to use.
	Backend gputypes.Backend

	// PreferIntegrated picks an integrated GPU over a discrete one.
	PreferIntegrated bool

	// WaitTimeout bounds the fence wait of one submission; zero means
	// DefaultWaitTimeout.
	WaitTimeout time.Duration
}

// DefaultConfig returns the configuration used by the registered factory:
// Vulkan, discrete GPU first.
func DefaultConfig() Config {
	return Config{Backend: gputypes.BackendVulkan, WaitTimeout: DefaultWaitTimeout}
}

func init() {
	backend.Register(backend.NameNative, func() (gpucore.Device, error) {
		return Open(DefaultConfig())
	})
}

// Open creates a HAL instance, picks an adapter and opens a device on it.
// The returned adapter owns the device. When no back end or adapter is
// available the error wraps gpucore.ErrDeviceUnavailable.
func Open(cfg Config) (*HALAdapter, error) {
	b, ok := hal.GetBackend(cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("native: HAL back end %v not available: %w", cfg.Backend, gpucore.ErrDeviceUnavailable)
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w: %w", gpucore.ErrDeviceUnavailable, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	selected := selectAdapter(adapters, cfg.PreferIntegrated)
	if selected == nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: no GPU adapters found: %w", gpucore.ErrDeviceUnavailable)
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device %q: %w: %w", selected.Info.Name, gpucore.ErrDeviceUnavailable, err)
	}

	a := NewHALAdapter(openDev.Device, openDev.Queue, gpucore.AdapterInfo{
		Name:       selected.Info.Name,
		Backend:    fmt.Sprint(cfg.Backend),
		DeviceType: selected.Info.DeviceType,
	}, convertLimits(limits))
	a.instance = instance
	a.owned = true
	if cfg.WaitTimeout > 0 {
		a.waitTimeout = cfg.WaitTimeout
	}
	a.logger().Info("native: device opened",
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType,
		"backend", a.info.Backend)
	return a, nil
}

// selectAdapter prefers a discrete GPU, then an integrated one, then
// whatever was enumerated first. With preferIntegrated the first two swap.
func selectAdapter(adapters []hal.ExposedAdapter, preferIntegrated bool) *hal.ExposedAdapter {
	if len(adapters) == 0 {
		return nil
	}
	order := []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU}
	if preferIntegrated {
		order[0], order[1] = order[1], order[0]
	}
	for _, want := range order {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

// FromProvider wraps the HAL device of an application that already owns
// one, for example a gogpu window. The provider must implement
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
// The device stays owned by the provider.
func FromProvider(provider gpucontext.DeviceProvider) (*HALAdapter, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider does not expose HAL types: %w", gpucore.ErrDeviceUnavailable)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device: %w", gpucore.ErrDeviceUnavailable)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue: %w", gpucore.ErrDeviceUnavailable)
	}

	limits := gputypes.DefaultLimits()
	return NewHALAdapter(device, queue, gpucore.AdapterInfo{Name: "provider", Backend: "gpucontext"}, convertLimits(limits)), nil
}
