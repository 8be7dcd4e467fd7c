package gpufilter

import (
	"errors"

	"github.com/gogpu/gpufilter/gpucore"
)

// Errors returned by the filter pipeline. Back ends wrap the same values,
// so errors.Is works on any error returned by ProcessImage or Filter.
var (
	// ErrDeviceUnavailable is returned when no compute-capable device is
	// available. Callers may fall back to another back end.
	ErrDeviceUnavailable = gpucore.ErrDeviceUnavailable

	// ErrSizeMismatch is returned when the pixel data length does not equal
	// width*height*4. It is detected before any device allocation.
	ErrSizeMismatch = gpucore.ErrSizeMismatch

	// ErrAllocation is returned when a buffer exceeds the device limits or
	// the device refuses to allocate it.
	ErrAllocation = gpucore.ErrAllocation

	// ErrExecution is returned when pipeline creation, recording,
	// submission or read-back fails.
	ErrExecution = gpucore.ErrExecution

	// ErrInvalidKernel is returned for malformed kernel descriptions.
	ErrInvalidKernel = errors.New("gpufilter: invalid kernel")
)
