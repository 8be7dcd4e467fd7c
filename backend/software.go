package backend

import (
	"github.com/gogpu/gpufilter/backend/software"
	"github.com/gogpu/gpufilter/gpucore"
)

// The software device is always available, so it is registered here rather
// than by an opt-in import.
func init() {
	Register(NameSoftware, func() (gpucore.Device, error) {
		return software.New(), nil
	})
}
