package software

import "github.com/gogpu/gpufilter/gpucore"

type config struct {
	name    string
	workers int
	limits  gpucore.Limits
	budget  uint64
}

func defaultConfig() config {
	return config{
		name:   "cpu",
		limits: gpucore.DefaultLimits(),
	}
}

// Option configures a software Device.
type Option func(*config)

// WithWorkers sets the number of worker goroutines that execute workgroups.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithLimits replaces the device limits. The default is
// gpucore.DefaultLimits.
func WithLimits(l gpucore.Limits) Option {
	return func(c *config) { c.limits = l }
}

// WithMemoryBudget caps the total bytes of live buffers. Allocations that
// would exceed it fail with gpucore.ErrAllocation. Zero means unlimited.
func WithMemoryBudget(bytes uint64) Option {
	return func(c *config) { c.budget = bytes }
}

// WithName sets the adapter name reported by Info.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}
