// Package gpufilter runs image filters as compute passes on a GPU.
//
// # Overview
//
// A filter is a Kernel: one or more compute programs dispatched over the
// image once per pass. The pixels are uploaded once, the passes ping-pong
// between two device buffers so that no pass reads and writes the same
// buffer, and the last pass's output is copied to a staging buffer and read
// back. The caller's pixels are never modified.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpufilter"
//	    "github.com/gogpu/gpufilter/backend"
//	    _ "github.com/gogpu/gpufilter/backend/native"
//	)
//
//	dc, err := gpufilter.AcquireDevice(backend.Default)
//	if err != nil {
//	    return err
//	}
//	defer dc.Close()
//
//	blur, _ := gpufilter.Repeat(gpufilter.Gaussian7x7, 3)
//	out, err := gpufilter.ProcessImage(ctx, dc, pixels, width, height, blur)
//
// # Devices
//
// A DeviceContext wraps a gpucore.Device. Three back ends implement it:
//   - backend/software: CPU reference device, always available
//   - backend/native: Pure Go device on gogpu/wgpu HAL (Vulkan)
//   - backend/wgpunative: wgpu-native through cgo, built with -tags wgpunative
//
// The device is passed explicitly to every call; the package keeps no
// global device. One DeviceContext may serve concurrent invocations.
//
// # Kernels
//
// The built-in kernels are Identity, Invert, Grayscale, BoxBlur3x3,
// Gaussian7x7 and Laplace3x3. Repeat and Chain combine them into multi-pass
// kernels. Custom kernels are described with KernelDesc and carry WGSL
// code, a host form for the software device, or both. Neighbourhood
// kernels leave a band of Radius pixels at the image border untouched.
//
// # Errors
//
// Every error wraps one of ErrDeviceUnavailable, ErrSizeMismatch,
// ErrAllocation, ErrExecution or ErrInvalidKernel. Size mismatches are
// detected before anything is allocated on the device.
//
// # Logging
//
// The package is silent by default. SetLogger installs a slog.Logger for
// the package and for devices acquired afterwards; WithLogger overrides it
// for a single call.
package gpufilter
