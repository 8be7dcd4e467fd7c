package gpufilter

import (
	"encoding/binary"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// BytesPerPixel is the size of one packed RGBA8 pixel.
const BytesPerPixel = 4

// PixelBuffer is a row-major RGBA8 image. Each element of Pix is one pixel
// packed little-endian: R in bits 0-7, G in 8-15, B in 16-23 and A in 24-31,
// which is the in-memory order of R, G, B, A bytes.
//
// A PixelBuffer is a value: filters return a new buffer and never modify
// their input.
type PixelBuffer struct {
	Width  uint32
	Height uint32
	Pix    []uint32
}

// NewPixelBuffer returns a zeroed (transparent black) buffer.
func NewPixelBuffer(width, height uint32) PixelBuffer {
	return PixelBuffer{Width: width, Height: height, Pix: make([]uint32, uint64(width)*uint64(height))}
}

// PixelBufferFromBytes packs RGBA bytes into a PixelBuffer. The length of
// data must be width*height*4.
func PixelBufferFromBytes(width, height uint32, data []byte) (PixelBuffer, error) {
	if err := checkSize(width, height, uint64(len(data)), BytesPerPixel); err != nil {
		return PixelBuffer{}, err
	}
	pb := NewPixelBuffer(width, height)
	for i := range pb.Pix {
		pb.Pix[i] = binary.LittleEndian.Uint32(data[i*BytesPerPixel:])
	}
	return pb, nil
}

// PixelBufferFromImage converts any image to a PixelBuffer holding its
// non-premultiplied RGBA values. An empty image yields ErrSizeMismatch.
func PixelBufferFromImage(img image.Image) (PixelBuffer, error) {
	b := img.Bounds()
	if b.Empty() {
		return PixelBuffer{}, fmt.Errorf("%w: empty %dx%d image", ErrSizeMismatch, b.Dx(), b.Dy())
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) || nrgba.Stride != 4*b.Dx() {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	return PixelBufferFromBytes(uint32(b.Dx()), uint32(b.Dy()), nrgba.Pix)
}

// Validate checks that the buffer is non-empty and that len(Pix) equals
// Width*Height.
func (pb PixelBuffer) Validate() error {
	return checkSize(pb.Width, pb.Height, uint64(len(pb.Pix)), 1)
}

func checkSize(width, height uint32, n, unit uint64) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: empty %dx%d image", ErrSizeMismatch, width, height)
	}
	if want := uint64(width) * uint64(height) * unit; n != want {
		return fmt.Errorf("%w: %dx%d image needs %d elements, got %d", ErrSizeMismatch, width, height, want, n)
	}
	return nil
}

// ByteLength returns Width*Height*4.
func (pb PixelBuffer) ByteLength() uint64 {
	return uint64(pb.Width) * uint64(pb.Height) * BytesPerPixel
}

// Bytes returns the pixels as RGBA bytes.
func (pb PixelBuffer) Bytes() []byte {
	out := make([]byte, len(pb.Pix)*BytesPerPixel)
	for i, p := range pb.Pix {
		binary.LittleEndian.PutUint32(out[i*BytesPerPixel:], p)
	}
	return out
}

// At returns the packed pixel at (x, y).
func (pb PixelBuffer) At(x, y uint32) uint32 {
	return pb.Pix[y*pb.Width+x]
}

// Image returns the pixels as a non-premultiplied image.
func (pb PixelBuffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    pb.Bytes(),
		Stride: int(pb.Width) * BytesPerPixel,
		Rect:   image.Rect(0, 0, int(pb.Width), int(pb.Height)),
	}
}

// Clone returns a deep copy.
func (pb PixelBuffer) Clone() PixelBuffer {
	pb.Pix = append([]uint32(nil), pb.Pix...)
	return pb
}

// PackRGBA packs four channel values into a pixel word.
func PackRGBA(r, g, b, a uint8) uint32 {
	return uint32(r) | uint32(g)<<8 | uint32(b)<<16 | uint32(a)<<24
}

// UnpackRGBA splits a pixel word into its channels.
func UnpackRGBA(p uint32) (r, g, b, a uint8) {
	return uint8(p), uint8(p >> 8), uint8(p >> 16), uint8(p >> 24)
}
