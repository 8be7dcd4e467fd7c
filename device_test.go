package gpufilter

import (
	"errors"
	"testing"

	"github.com/gogpu/gpufilter/backend/software"
	"github.com/gogpu/gpufilter/gpucore"
)

func TestNewDeviceContext_Nil(t *testing.T) {
	if _, err := NewDeviceContext(nil); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("NewDeviceContext(nil) error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestAcquireDevice(t *testing.T) {
	errNoAdapter := errors.New("no adapter")
	_, err := AcquireDevice(func() (gpucore.Device, error) { return nil, errNoAdapter })
	if !errors.Is(err, ErrDeviceUnavailable) || !errors.Is(err, errNoAdapter) {
		t.Errorf("AcquireDevice() error = %v, want ErrDeviceUnavailable wrapping the cause", err)
	}

	dc, err := AcquireDevice(func() (gpucore.Device, error) {
		return software.New(software.WithName("test-cpu")), nil
	})
	if err != nil {
		t.Fatalf("AcquireDevice() error: %v", err)
	}
	t.Cleanup(dc.Close)
	if info := dc.Info(); info.Name != "test-cpu" || info.Backend != "software" {
		t.Errorf("Info() = %+v", info)
	}
	if dc.Limits() != gpucore.DefaultLimits() {
		t.Errorf("Limits() = %+v, want defaults", dc.Limits())
	}
}

func TestDeviceContext_Close(t *testing.T) {
	dc := newTestContext(t)
	if err := dc.usable(); err != nil {
		t.Fatalf("usable() = %v", err)
	}
	dc.Close()
	dc.Close()
	if err := dc.usable(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("usable() after Close = %v, want ErrDeviceUnavailable", err)
	}

	var nilCtx *DeviceContext
	if err := nilCtx.usable(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("nil usable() = %v, want ErrDeviceUnavailable", err)
	}
}
