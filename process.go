package gpufilter

import (
	"context"
	"fmt"
)

// Filter runs kernel k over pb on the device of dc and returns the filtered
// image. pb is not modified.
//
// Failures are reported as the package errors: ErrDeviceUnavailable for a
// missing or closed device, ErrSizeMismatch for an invalid pb,
// ErrAllocation when the device cannot hold the buffers, ErrInvalidKernel
// for a zero or malformed kernel and ErrExecution for anything that fails
// while recording, submitting or reading back. When ctx ends first, Filter
// returns ctx.Err().
//
// Every device resource of the call is released on all paths.
func Filter(ctx context.Context, dc *DeviceContext, pb PixelBuffer, k Kernel, opts ...Option) (PixelBuffer, error) {
	if err := dc.usable(); err != nil {
		return PixelBuffer{}, err
	}
	if k.IsZero() {
		return PixelBuffer{}, fmt.Errorf("%w: zero kernel", ErrInvalidKernel)
	}
	if err := pb.Validate(); err != nil {
		return PixelBuffer{}, err
	}
	if err := ctx.Err(); err != nil {
		return PixelBuffer{}, err
	}

	p, err := PlanPasses(dc, k, pb.Width, pb.Height)
	if err != nil {
		return PixelBuffer{}, err
	}
	o := applyOptions(opts)
	set, err := uploadBuffers(dc, pb, k.PassCount(), o)
	if err != nil {
		return PixelBuffer{}, err
	}
	e := &Executor{dc: dc, o: o}
	return e.Execute(ctx, set, p, k)
}

// ProcessImage filters width*height RGBA8 pixels given as bytes and returns
// the result in the same layout. It is Filter for callers that hold raw
// pixel bytes; len(pixels) must be width*height*4 or the call fails with
// ErrSizeMismatch before touching the device.
func ProcessImage(ctx context.Context, dc *DeviceContext, pixels []byte, width, height uint32, k Kernel, opts ...Option) ([]byte, error) {
	pb, err := PixelBufferFromBytes(width, height, pixels)
	if err != nil {
		return nil, err
	}
	out, err := Filter(ctx, dc, pb, k, opts...)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
