package gpufilter

import _ "embed"

// Embedded WGSL sources of the built-in kernels.

//go:embed shaders/identity.wgsl
var identityShaderSource string

//go:embed shaders/invert.wgsl
var invertShaderSource string

//go:embed shaders/grayscale.wgsl
var grayscaleShaderSource string

//go:embed shaders/box_blur_3x3.wgsl
var boxBlurShaderSource string

//go:embed shaders/gaussian_7x7.wgsl
var gaussianShaderSource string

//go:embed shaders/laplace_3x3.wgsl
var laplaceShaderSource string
