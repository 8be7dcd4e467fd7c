//go:build wgpunative

package gpufilter

import (
	"context"
	"testing"

	"github.com/gogpu/gpufilter/backend/wgpunative"
)

// newWGPUContext opens a wgpu-native device or skips the test when the
// machine has no adapter.
func newWGPUContext(t *testing.T) *DeviceContext {
	t.Helper()
	dev, err := wgpunative.Open(wgpunative.Options{Label: t.Name()})
	if err != nil {
		t.Skipf("wgpu-native adapter unavailable: %v", err)
	}
	dc, err := NewDeviceContext(dev)
	if err != nil {
		dev.Destroy()
		t.Fatalf("NewDeviceContext() error: %v", err)
	}
	t.Cleanup(dc.Close)
	return dc
}

// TestWGSLMatchesHost runs every built-in kernel through its WGSL program on
// wgpu-native and through its host form on the software device. The built-in
// kernels use integer arithmetic only, so the results must be identical.
func TestWGSLMatchesHost(t *testing.T) {
	gpu := newWGPUContext(t)
	cpu := newTestContext(t)

	blur3, err := Repeat(Gaussian7x7, 3)
	if err != nil {
		t.Fatalf("Repeat() error: %v", err)
	}
	edges, err := Chain(Grayscale, Laplace3x3)
	if err != nil {
		t.Fatalf("Chain() error: %v", err)
	}
	kernels := []Kernel{blur3, edges}
	for _, name := range KernelNames() {
		k, ok := KernelByName(name)
		if !ok {
			t.Fatalf("KernelByName(%q) not found", name)
		}
		kernels = append(kernels, k)
	}

	// Odd sizes leave partial workgroups at the right and bottom edges.
	in := gradient(19, 13)
	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			want := mustFilter(t, cpu, in, k)
			got, err := Filter(context.Background(), gpu, in, k, WithShaderValidation(true))
			if err != nil {
				t.Fatalf("Filter() on wgpu-native error: %v", err)
			}
			if got.Width != want.Width || got.Height != want.Height {
				t.Fatalf("size = %dx%d, want %dx%d", got.Width, got.Height, want.Width, want.Height)
			}
			mismatches := 0
			for i := range want.Pix {
				if got.Pix[i] == want.Pix[i] {
					continue
				}
				if mismatches < 5 {
					x, y := uint32(i)%in.Width, uint32(i)/in.Width
					t.Errorf("pixel (%d,%d) = %#08x, host form gives %#08x", x, y, got.Pix[i], want.Pix[i])
				}
				mismatches++
			}
			if mismatches > 0 {
				t.Errorf("%d of %d pixels differ", mismatches, len(want.Pix))
			}
		})
	}
}
