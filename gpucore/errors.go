package gpucore

import "errors"

// Error taxonomy shared by the filter core and every back end.
var (
	// ErrDeviceUnavailable is returned when no compute-capable device is
	// available or the device has been destroyed.
	ErrDeviceUnavailable = errors.New("gpufilter: compute device unavailable")

	// ErrSizeMismatch is returned when a pixel buffer's length disagrees
	// with its declared width and height.
	ErrSizeMismatch = errors.New("gpufilter: pixel buffer size mismatch")

	// ErrAllocation is returned when a buffer exceeds the device limits or
	// the device refuses to allocate it.
	ErrAllocation = errors.New("gpufilter: device allocation failed")

	// ErrExecution is returned when recording, submitting or mapping fails.
	ErrExecution = errors.New("gpufilter: execution failed")
)
