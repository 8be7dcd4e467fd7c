package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gpufilter/backend/software"
	"github.com/gogpu/gpufilter/gpucore"
)

// withRegistry swaps in an empty registry for the duration of a test.
func withRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := factories
	factories = make(map[string]Factory)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		factories = saved
		registryMu.Unlock()
	})
}

func failing(err error) Factory {
	return func() (gpucore.Device, error) { return nil, err }
}

func TestAvailable_Order(t *testing.T) {
	withRegistry(t)
	noop := failing(errors.New("unused"))
	Register("zeta", noop)
	Register(NameSoftware, noop)
	Register("alpha", noop)
	Register(NameWGPUNative, noop)

	want := []string{NameWGPUNative, NameSoftware, "alpha", "zeta"}
	if got := Available(); !slices.Equal(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}
}

func TestOpen(t *testing.T) {
	withRegistry(t)
	Register(NameSoftware, func() (gpucore.Device, error) { return software.New(), nil })

	dev, err := Open(NameSoftware)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer dev.Destroy()
	if got := dev.Info().Backend; got != "software" {
		t.Errorf("Info().Backend = %q, want software", got)
	}

	if _, err := Open("missing"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open(missing) error = %v, want ErrUnknownBackend", err)
	}
}

func TestDefault_FallsBack(t *testing.T) {
	withRegistry(t)
	gpuErr := errors.New("no adapter")
	Register(NameNative, failing(gpuErr))
	Register(NameSoftware, func() (gpucore.Device, error) { return software.New(), nil })

	dev, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	defer dev.Destroy()
	if got := dev.Info().Backend; got != "software" {
		t.Errorf("Default() picked %q, want software", got)
	}
}

func TestDefault_NoneAvailable(t *testing.T) {
	withRegistry(t)
	gpuErr := errors.New("no adapter")
	Register(NameNative, failing(gpuErr))

	_, err := Default()
	if !errors.Is(err, gpucore.ErrDeviceUnavailable) {
		t.Errorf("Default() error = %v, want ErrDeviceUnavailable", err)
	}
	if !errors.Is(err, gpuErr) {
		t.Errorf("Default() error = %v, want it to wrap the back end failure", err)
	}
}

func TestUnregister(t *testing.T) {
	withRegistry(t)
	Register("x", failing(nil))
	if !IsRegistered("x") {
		t.Fatal("x not registered")
	}
	Unregister("x")
	if IsRegistered("x") {
		t.Error("x still registered after Unregister")
	}
}
