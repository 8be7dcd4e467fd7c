//go:build wgpunative

// Package wgpunative implements gpucore.Device on wgpu-native through the
// cogentcore/webgpu bindings.
//
// The package needs cgo and the wgpu-native library, so it is only built
// with the wgpunative build tag:
//
//	go build -tags wgpunative ./...
//
// Importing it registers the "wgpunative" back end, which the back end
// registry tries before the Pure Go one. Shaders are handed to wgpu-native
// as WGSL.
package wgpunative
