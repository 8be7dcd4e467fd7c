package gpufilter

import (
	"slices"
	"sync"
)

// Built-in kernels. Each is a single-pass kernel with an 8x8 workgroup;
// combine them with Repeat and Chain.
var (
	// Identity copies every pixel unchanged.
	Identity = builtin(KernelDesc{
		Name:     "identity",
		Programs: []Program{{Code: identityShaderSource, Host: pointwise(identityPixel)}},
	})

	// Invert replaces every pixel word v with 0xFFFFFFFF - v, inverting all
	// four channels including alpha.
	Invert = builtin(KernelDesc{
		Name:     "invert",
		Programs: []Program{{Code: invertShaderSource, Host: pointwise(invertPixel)}},
	})

	// Grayscale replaces R, G and B with the integer Rec.601 luma and keeps
	// alpha.
	Grayscale = builtin(KernelDesc{
		Name:     "grayscale",
		Programs: []Program{{Code: grayscaleShaderSource, Host: pointwise(grayscalePixel)}},
	})

	// BoxBlur3x3 averages the 3x3 neighbourhood of every channel.
	BoxBlur3x3 = builtin(KernelDesc{
		Name:     "box-blur-3x3",
		Programs: []Program{{Code: boxBlurShaderSource, Host: neighbourhood(1, boxBlur3x3)}},
		Radius:   1,
	})

	// Gaussian7x7 applies a 7x7 binomial approximation of a Gaussian blur.
	Gaussian7x7 = builtin(KernelDesc{
		Name:     "gaussian-7x7",
		Programs: []Program{{Code: gaussianShaderSource, Host: neighbourhood(3, gaussian7x7)}},
		Radius:   3,
	})

	// Laplace3x3 applies the 4-neighbour Laplacian edge detector to R, G
	// and B and keeps alpha.
	Laplace3x3 = builtin(KernelDesc{
		Name:     "laplace-3x3",
		Programs: []Program{{Code: laplaceShaderSource, Host: neighbourhood(1, laplace3x3)}},
		Radius:   1,
	})
)

func builtin(desc KernelDesc) Kernel {
	desc.Programs[0].Label = desc.Name
	return MustKernel(desc)
}

var (
	kernelsOnce   sync.Once
	kernelsByName map[string]Kernel
)

func builtinKernels() map[string]Kernel {
	kernelsOnce.Do(func() {
		kernelsByName = make(map[string]Kernel)
		for _, k := range []Kernel{Identity, Invert, Grayscale, BoxBlur3x3, Gaussian7x7, Laplace3x3} {
			kernelsByName[k.Name()] = k
		}
	})
	return kernelsByName
}

// KernelByName returns the built-in kernel with the given name.
func KernelByName(name string) (Kernel, bool) {
	k, ok := builtinKernels()[name]
	return k, ok
}

// KernelNames returns the names of the built-in kernels, sorted.
func KernelNames() []string {
	names := make([]string, 0, len(builtinKernels()))
	for name := range builtinKernels() {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
