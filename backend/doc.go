// Package backend is the registry of compute device back ends.
//
// The software device is always registered. GPU back end packages register
// a factory from their init function, so importing one is enough to make it
// selectable:
//
//	import _ "github.com/gogpu/gpufilter/backend/native"
//
// Open returns a device by name; Default tries every registered back end in
// priority order (wgpu-native, native, software) and returns the first one
// that opens:
//
//	dev, err := backend.Default()
//	if err != nil {
//		return err // wraps gpucore.ErrDeviceUnavailable
//	}
//	defer dev.Destroy()
package backend
