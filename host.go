package gpufilter

import (
	"encoding/binary"

	"github.com/gogpu/gpufilter/gpucore"
)

// Host forms of the built-in shaders. Each computes exactly what its WGSL
// counterpart computes, with the same integer rounding, so results do not
// depend on the device.

// hostImage decodes the bindings of a filter pass.
type hostImage struct {
	width, height uint32
	radius        uint32
	src, dst      []byte
}

func bindImage(b gpucore.Bindings) hostImage {
	im := hostImage{
		width:  binary.LittleEndian.Uint32(b[0][0:]),
		height: binary.LittleEndian.Uint32(b[0][4:]),
		src:    b[1],
		dst:    b[2],
	}
	if len(b[0]) >= dimsRadiusOffset+4 {
		im.radius = binary.LittleEndian.Uint32(b[0][dimsRadiusOffset:])
	}
	return im
}

func (im hostImage) load(i uint32) uint32    { return binary.LittleEndian.Uint32(im.src[i*4:]) }
func (im hostImage) store(i, v uint32)       { binary.LittleEndian.PutUint32(im.dst[i*4:], v) }
func (im hostImage) inside(x, y uint32) bool { return x < im.width && y < im.height }

// inBand reports whether (x, y) lies within r pixels of an edge.
func (im hostImage) inBand(x, y, r uint32) bool {
	return x < r || y < r || uint64(x)+uint64(r) >= uint64(im.width) || uint64(y)+uint64(r) >= uint64(im.height)
}

// banded wraps the host form of a program so that pixels within the
// kernel radius of an edge, as uploaded in the dimensions binding, are
// copied through before h sees them.
func banded(h gpucore.HostKernel) gpucore.HostKernel {
	return func(id [3]uint32, b gpucore.Bindings) {
		im := bindImage(b)
		x, y := id[0], id[1]
		if im.radius > 0 && im.inside(x, y) && im.inBand(x, y, im.radius) {
			i := y*im.width + x
			im.store(i, im.load(i))
			return
		}
		h(id, b)
	}
}

// pointwise builds a host kernel applying f to every pixel.
func pointwise(f func(uint32) uint32) gpucore.HostKernel {
	return func(id [3]uint32, b gpucore.Bindings) {
		im := bindImage(b)
		if !im.inside(id[0], id[1]) {
			return
		}
		i := id[1]*im.width + id[0]
		im.store(i, f(im.load(i)))
	}
}

// neighbourhood builds a host kernel for a filter of radius r. Pixels in
// the boundary band are copied through; f computes the others.
func neighbourhood(r uint32, f func(im hostImage, x, y uint32) uint32) gpucore.HostKernel {
	return func(id [3]uint32, b gpucore.Bindings) {
		im := bindImage(b)
		x, y := id[0], id[1]
		if !im.inside(x, y) {
			return
		}
		i := y*im.width + x
		if im.inBand(x, y, r) {
			im.store(i, im.load(i))
			return
		}
		im.store(i, f(im, x, y))
	}
}

func identityPixel(p uint32) uint32 { return p }

func invertPixel(p uint32) uint32 { return 0xFFFFFFFF - p }

func grayscalePixel(p uint32) uint32 {
	r, g, b := p&0xFF, (p>>8)&0xFF, (p>>16)&0xFF
	y := (77*r + 150*g + 29*b + 128) >> 8
	return y | y<<8 | y<<16 | p&0xFF000000
}

func boxBlur3x3(im hostImage, x, y uint32) uint32 {
	var out uint32
	for c := range uint32(4) {
		shift := c * 8
		var sum uint32
		for dy := range uint32(3) {
			row := (y+dy-1)*im.width + x - 1
			for dx := range uint32(3) {
				sum += (im.load(row+dx) >> shift) & 0xFF
			}
		}
		out |= ((sum + 4) / 9) << shift
	}
	return out
}

var binomial7 = [7]uint32{1, 6, 15, 20, 15, 6, 1}

func gaussian7x7(im hostImage, x, y uint32) uint32 {
	var out uint32
	for c := range uint32(4) {
		shift := c * 8
		var sum uint32
		for dy := range uint32(7) {
			row := (y+dy-3)*im.width + x - 3
			for dx := range uint32(7) {
				sum += binomial7[dy] * binomial7[dx] * ((im.load(row+dx) >> shift) & 0xFF)
			}
		}
		out |= ((sum + 2048) >> 12) << shift
	}
	return out
}

func laplace3x3(im hostImage, x, y uint32) uint32 {
	i := y*im.width + x
	center := im.load(i)
	up, down := im.load(i-im.width), im.load(i+im.width)
	left, right := im.load(i-1), im.load(i+1)

	ch := func(p, shift uint32) int32 { return int32((p >> shift) & 0xFF) }
	out := center & 0xFF000000
	for c := range uint32(3) {
		shift := c * 8
		v := 4*ch(center, shift) - ch(up, shift) - ch(down, shift) - ch(left, shift) - ch(right, shift)
		out |= uint32(min(max(v, 0), 255)) << shift
	}
	return out
}
