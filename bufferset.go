package gpufilter

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpufilter/gpucore"
	"github.com/gogpu/gpufilter/internal/plan"
)

// Binding numbers of the filter pass interface.
const (
	bindingDims   = 0
	bindingInput  = 1
	bindingOutput = 2

	// dimsSize holds width, height and the kernel radius as u32, padded
	// to 16 bytes.
	dimsSize = 16

	dimsRadiusOffset = 8
)

// Usage flags of the buffers of one invocation.
const (
	dimsUsage    = gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst
	imageUsage   = gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst | gpucore.BufferUsageCopySrc
	resultUsage  = gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc
	stagingUsage = gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst
)

// BufferSet owns the device buffers of one invocation: the dimensions
// buffer, image buffer A holding the upload, image buffer B (the result of
// a single pass or the ping-pong partner of a chain) and the host-readable
// staging buffer. Nothing in a BufferSet is shared with other invocations.
type BufferSet struct {
	dc       *DeviceContext
	width    uint32
	height   uint32
	length   uint64
	size     uint64
	dims     gpucore.BufferID
	images   [2]gpucore.BufferID
	staging  gpucore.BufferID
	released atomic.Bool
}

// UploadBuffers allocates the buffers for pb and writes the dimensions and
// pixels into them. Buffer sizes are padded to the configured alignment;
// the padding is zero-filled. The writes are ordered before any pass
// recorded afterwards.
//
// An invalid pb fails with ErrSizeMismatch before anything is allocated.
// Sizes beyond the device limits fail with ErrAllocation; on any failure
// the buffers already created are released.
func UploadBuffers(dc *DeviceContext, pb PixelBuffer, passCount uint32, opts ...Option) (*BufferSet, error) {
	return uploadBuffers(dc, pb, passCount, applyOptions(opts))
}

func uploadBuffers(dc *DeviceContext, pb PixelBuffer, passCount uint32, o options) (*BufferSet, error) {
	if err := dc.usable(); err != nil {
		return nil, err
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}

	length := pb.ByteLength()
	size := alignUp(length, o.alignment)
	limits := dc.Limits()
	if size > limits.MaxBufferSize {
		return nil, fmt.Errorf("gpufilter: %dx%d image needs %d-byte buffers, device allows %d: %w",
			pb.Width, pb.Height, size, limits.MaxBufferSize, ErrAllocation)
	}
	if size > limits.MaxStorageBufferBindingSize {
		return nil, fmt.Errorf("gpufilter: %dx%d image needs %d-byte storage bindings, device allows %d: %w",
			pb.Width, pb.Height, size, limits.MaxStorageBufferBindingSize, ErrAllocation)
	}

	s := &BufferSet{dc: dc, width: pb.Width, height: pb.Height, length: length, size: size}
	fail := func(err error) (*BufferSet, error) {
		s.Release()
		return nil, err
	}

	resultLabel := "result"
	if passCount > 1 {
		resultLabel = "ping-pong"
	}
	dev := dc.Device()
	var err error
	if s.dims, err = createBuffer(dev, "dims", dimsSize, dimsUsage); err != nil {
		return fail(err)
	}
	if s.images[plan.RoleA], err = createBuffer(dev, "image", size, imageUsage); err != nil {
		return fail(err)
	}
	if s.images[plan.RoleB], err = createBuffer(dev, resultLabel, size, resultUsage); err != nil {
		return fail(err)
	}
	if s.staging, err = createBuffer(dev, "staging", size, stagingUsage); err != nil {
		return fail(err)
	}

	var dims [dimsSize]byte
	binary.LittleEndian.PutUint32(dims[0:], pb.Width)
	binary.LittleEndian.PutUint32(dims[4:], pb.Height)
	if err := dev.WriteBuffer(s.dims, 0, dims[:]); err != nil {
		return fail(fmt.Errorf("gpufilter: upload dimensions: %w", err))
	}

	data := pb.Bytes()
	if pad := size - length; pad > 0 {
		data = append(data, make([]byte, pad)...)
	}
	if err := dev.WriteBuffer(s.images[plan.RoleA], 0, data); err != nil {
		return fail(fmt.Errorf("gpufilter: upload pixels: %w", err))
	}

	o.log().Debug("gpufilter: buffers uploaded",
		"width", pb.Width,
		"height", pb.Height,
		"size", size,
		"pad", size-length,
		"passes", passCount)
	return s, nil
}

// setRadius stores the kernel radius in the dimensions buffer. Every pass
// copies pixels within r of an edge through unchanged.
func (s *BufferSet) setRadius(r uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], r)
	if err := s.dc.Device().WriteBuffer(s.dims, dimsRadiusOffset, b[:]); err != nil {
		return fmt.Errorf("gpufilter: upload radius: %w", err)
	}
	return nil
}

func createBuffer(dev gpucore.Device, label string, size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	id, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: label, Size: size, Usage: usage})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("gpufilter: create %s buffer (%d bytes): %w", label, size, err)
	}
	return id, nil
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// Width returns the image width.
func (s *BufferSet) Width() uint32 { return s.width }

// Height returns the image height.
func (s *BufferSet) Height() uint32 { return s.height }

// Size returns the padded size of each image buffer in bytes.
func (s *BufferSet) Size() uint64 { return s.size }

// Pad returns the number of alignment bytes appended to the image.
func (s *BufferSet) Pad() uint64 { return s.size - s.length }

// Dims returns the dimensions buffer.
func (s *BufferSet) Dims() gpucore.BufferID { return s.dims }

// Image returns the image buffer playing the given role.
func (s *BufferSet) Image(r plan.Role) gpucore.BufferID { return s.images[r] }

// Staging returns the host-readable staging buffer.
func (s *BufferSet) Staging() gpucore.BufferID { return s.staging }

// Release destroys every buffer of the set. It is safe to call more than
// once. Callers release only after the invocation's read-back completed or
// failed, so the device never uses a released buffer.
func (s *BufferSet) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	dev := s.dc.Device()
	for _, id := range []gpucore.BufferID{s.dims, s.images[plan.RoleA], s.images[plan.RoleB], s.staging} {
		if id != gpucore.InvalidID {
			dev.DestroyBuffer(id)
		}
	}
}
