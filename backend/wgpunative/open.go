//go:build wgpunative

package wgpunative

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gpufilter/backend"
	"github.com/gogpu/gpufilter/gpucore"
)

// Options configures Open.
type Options struct {
	// ForceFallbackAdapter asks wgpu-native for its software adapter.
	ForceFallbackAdapter bool

	// Label names the device in driver diagnostics.
	Label string
}

func init() {
	backend.Register(backend.NameWGPUNative, func() (gpucore.Device, error) {
		return Open(Options{})
	})
}

// Open requests an adapter and a device with the WebGPU default limits.
// Failures wrap gpucore.ErrDeviceUnavailable.
func Open(opts Options) (*Device, error) {
	if opts.Label == "" {
		opts.Label = "gpufilter"
	}
	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: opts.ForceFallbackAdapter,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("wgpunative: request adapter: %w: %w", gpucore.ErrDeviceUnavailable, err)
	}

	limits := wgpu.DefaultLimits()
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          opts.Label,
		RequiredLimits: &wgpu.RequiredLimits{Limits: limits},
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpunative: request device: %w: %w", gpucore.ErrDeviceUnavailable, err)
	}

	d := newDevice(instance, adapter, device, gpucore.AdapterInfo{
		Name:          opts.Label,
		Backend:       "wgpu-native",
		ShaderFormats: gpucore.ShaderFormatWGSL,
	})
	d.limits = convertLimits(limits)
	d.logger().Info("wgpunative: device opened", "label", opts.Label, "fallback", opts.ForceFallbackAdapter)
	return d, nil
}

func convertLimits(lim wgpu.Limits) gpucore.Limits {
	return gpucore.Limits{
		MaxBufferSize:                     uint64(lim.MaxBufferSize),
		MaxStorageBufferBindingSize:       uint64(lim.MaxStorageBufferBindingSize),
		MaxComputeWorkgroupSizeX:          uint32(lim.MaxComputeWorkgroupSizeX),
		MaxComputeWorkgroupSizeY:          uint32(lim.MaxComputeWorkgroupSizeY),
		MaxComputeWorkgroupSizeZ:          uint32(lim.MaxComputeWorkgroupSizeZ),
		MaxComputeInvocationsPerWorkgroup: uint32(lim.MaxComputeInvocationsPerWorkgroup),
		MaxComputeWorkgroupsPerDimension:  uint32(lim.MaxComputeWorkgroupsPerDimension),
	}
}
