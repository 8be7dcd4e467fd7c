package gpufilter

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpufilter/gpucore"
	"github.com/gogpu/gpufilter/internal/plan"
)

// DeviceContext is an acquired compute device. It is passed explicitly to
// every call; the package keeps no global device.
//
// A DeviceContext is safe for concurrent use. Each invocation creates its
// own buffers and pipeline objects on the shared device.
type DeviceContext struct {
	device gpucore.Device
	info   gpucore.AdapterInfo
	limits gpucore.Limits
	closed atomic.Bool
}

// NewDeviceContext wraps an acquired device. A nil device yields
// ErrDeviceUnavailable.
func NewDeviceContext(dev gpucore.Device) (*DeviceContext, error) {
	if dev == nil {
		return nil, fmt.Errorf("gpufilter: no device: %w", ErrDeviceUnavailable)
	}
	propagateLogger(dev, Logger())

	dc := &DeviceContext{
		device: dev,
		info:   dev.Info(),
		limits: dev.Limits(),
	}
	Logger().Info("gpufilter: device acquired",
		"adapter", dc.info.Name,
		"backend", dc.info.Backend,
		"max_buffer", dc.limits.MaxBufferSize)
	return dc, nil
}

// AcquireDevice calls acquire and wraps the result. Acquisition failures are
// returned wrapped in ErrDeviceUnavailable; nothing is retried.
func AcquireDevice(acquire func() (gpucore.Device, error)) (*DeviceContext, error) {
	dev, err := acquire()
	if err != nil {
		return nil, fmt.Errorf("gpufilter: acquire device: %w: %w", ErrDeviceUnavailable, err)
	}
	return NewDeviceContext(dev)
}

// Device returns the wrapped device.
func (dc *DeviceContext) Device() gpucore.Device { return dc.device }

// Info describes the adapter.
func (dc *DeviceContext) Info() gpucore.AdapterInfo { return dc.info }

// Limits returns the device limits.
func (dc *DeviceContext) Limits() gpucore.Limits { return dc.limits }

// Close destroys the device. Invocations still running fail with errors
// from the device; later calls fail with ErrDeviceUnavailable.
func (dc *DeviceContext) Close() {
	if dc.closed.CompareAndSwap(false, true) {
		dc.device.Destroy()
	}
}

// usable returns ErrDeviceUnavailable for nil or closed contexts.
func (dc *DeviceContext) usable() error {
	if dc == nil || dc.device == nil {
		return fmt.Errorf("gpufilter: nil device context: %w", ErrDeviceUnavailable)
	}
	if dc.closed.Load() {
		return fmt.Errorf("gpufilter: device context closed: %w", ErrDeviceUnavailable)
	}
	return nil
}

func (dc *DeviceContext) planLimits() plan.Limits {
	return plan.Limits{
		MaxWorkgroupSizeX:          dc.limits.MaxComputeWorkgroupSizeX,
		MaxWorkgroupSizeY:          dc.limits.MaxComputeWorkgroupSizeY,
		MaxInvocationsPerWorkgroup: dc.limits.MaxComputeInvocationsPerWorkgroup,
		MaxWorkgroupsPerDimension:  dc.limits.MaxComputeWorkgroupsPerDimension,
	}
}
