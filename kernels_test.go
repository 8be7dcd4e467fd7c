package gpufilter

import (
	"testing"
)

func uniform(w, h, p uint32) PixelBuffer {
	pb := NewPixelBuffer(w, h)
	for i := range pb.Pix {
		pb.Pix[i] = p
	}
	return pb
}

func TestGrayscale(t *testing.T) {
	dc := newTestContext(t)
	tests := []struct {
		in, want uint32
	}{
		{PackRGBA(255, 0, 0, 7), PackRGBA(77, 77, 77, 7)},
		{PackRGBA(0, 255, 0, 255), PackRGBA(149, 149, 149, 255)},
		{PackRGBA(0, 0, 255, 0), PackRGBA(29, 29, 29, 0)},
		{PackRGBA(255, 255, 255, 128), PackRGBA(255, 255, 255, 128)},
		{PackRGBA(0, 0, 0, 255), PackRGBA(0, 0, 0, 255)},
	}
	in := NewPixelBuffer(uint32(len(tests)), 1)
	for i, tt := range tests {
		in.Pix[i] = tt.in
	}
	out := mustFilter(t, dc, in, Grayscale)
	for i, tt := range tests {
		if out.Pix[i] != tt.want {
			t.Errorf("grayscale(%#08x) = %#08x, want %#08x", tt.in, out.Pix[i], tt.want)
		}
	}
}

func TestBlurPreservesUniformImages(t *testing.T) {
	dc := newTestContext(t)
	const p = 0x80C0FF10
	for _, k := range []Kernel{BoxBlur3x3, Gaussian7x7} {
		out := mustFilter(t, dc, uniform(12, 10, p), k)
		for i, v := range out.Pix {
			if v != p {
				t.Fatalf("%s: pixel %d = %#08x, want %#08x", k.Name(), i, v, uint32(p))
			}
		}
	}
}

func TestBoxBlur3x3_Impulse(t *testing.T) {
	dc := newTestContext(t)
	in := NewPixelBuffer(5, 5)
	in.Pix[2*5+2] = PackRGBA(90, 0, 0, 0)

	out := mustFilter(t, dc, in, BoxBlur3x3)
	for y := uint32(1); y <= 3; y++ {
		for x := uint32(1); x <= 3; x++ {
			if got, want := out.At(x, y), PackRGBA(10, 0, 0, 0); got != want {
				t.Errorf("(%d,%d) = %#08x, want %#08x", x, y, got, want)
			}
		}
	}
}

func TestGaussian7x7_Impulse(t *testing.T) {
	dc := newTestContext(t)
	in := NewPixelBuffer(7, 7)
	in.Pix[3*7+3] = PackRGBA(255, 0, 0, 255)

	out := mustFilter(t, dc, in, Gaussian7x7)
	// Centre weight is 20*20 of 4096; alpha sees the same impulse.
	if got, want := out.At(3, 3), PackRGBA(25, 0, 0, 25); got != want {
		t.Errorf("centre = %#08x, want %#08x", got, want)
	}
}

func TestLaplace3x3(t *testing.T) {
	dc := newTestContext(t)

	flat := mustFilter(t, dc, uniform(6, 6, PackRGBA(100, 50, 25, 200)), Laplace3x3)
	if got, want := flat.At(2, 2), PackRGBA(0, 0, 0, 200); got != want {
		t.Errorf("flat interior = %#08x, want %#08x", got, want)
	}

	in := uniform(5, 5, PackRGBA(0, 0, 0, 255))
	in.Pix[2*5+2] = PackRGBA(50, 70, 0, 9)
	out := mustFilter(t, dc, in, Laplace3x3)
	if got, want := out.At(2, 2), PackRGBA(200, 255, 0, 9); got != want {
		t.Errorf("centre = %#08x, want %#08x", got, want)
	}
	if got, want := out.At(1, 2), PackRGBA(0, 0, 0, 255); got != want {
		t.Errorf("neighbour = %#08x, want %#08x (negative response clamps to 0)", got, want)
	}
}

func TestEdgeDetectChain(t *testing.T) {
	dc := newTestContext(t)
	edges, err := Chain(Grayscale, BoxBlur3x3, Laplace3x3)
	if err != nil {
		t.Fatalf("Chain() error: %v", err)
	}
	// The one-pixel band keeps its colour through every pass, so only
	// pixels at least three steps from the edge see a flat grey
	// neighbourhood in the last pass.
	out := mustFilter(t, dc, uniform(9, 9, PackRGBA(10, 200, 30, 255)), edges)
	for y := uint32(3); y < 6; y++ {
		for x := uint32(3); x < 6; x++ {
			if r, g, b, _ := UnpackRGBA(out.At(x, y)); r != 0 || g != 0 || b != 0 {
				t.Fatalf("(%d,%d): flat image has edges %d %d %d", x, y, r, g, b)
			}
		}
	}
}
