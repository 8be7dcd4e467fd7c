// Package software implements gpucore.Device on the CPU.
//
// Shader modules carry the Go form of their entry point
// ([gpucore.HostKernel]); dispatches run every invocation of every
// workgroup on a worker pool. Buffers, bind groups, command buffers and
// asynchronous mapping follow the same rules as the GPU back ends:
// usage flags are enforced, a buffer may not be bound writable and
// readable in one bind group, submissions execute in order on a queue
// goroutine and MapRead completes only after everything submitted before
// it.
package software

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpufilter/gpucore"
	"github.com/gogpu/gpufilter/internal/parallel"
)

// Device is a CPU implementation of gpucore.Device.
// It is safe for concurrent use.
type Device struct {
	cfg  config
	pool *parallel.WorkerPool

	mu              sync.Mutex
	buffers         map[gpucore.BufferID]*buffer
	modules         map[gpucore.ShaderModuleID]*shaderModule
	layouts         map[gpucore.BindGroupLayoutID]*bindGroupLayout
	pipelineLayouts map[gpucore.PipelineLayoutID]*pipelineLayout
	pipelines       map[gpucore.ComputePipelineID]*pipeline
	groups          map[gpucore.BindGroupID]*bindGroup
	allocated       uint64

	nextID      atomic.Uint64
	allocations atomic.Uint64
	log         atomic.Pointer[slog.Logger]

	// queue serializes writes, submissions and map requests.
	qmu       sync.Mutex
	queue     chan func()
	closed    bool
	queueDone chan struct{}
}

var _ gpucore.Device = (*Device)(nil)

// New creates a software device.
func New(opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Device{
		cfg:             cfg,
		pool:            parallel.NewWorkerPool(cfg.workers),
		buffers:         make(map[gpucore.BufferID]*buffer),
		modules:         make(map[gpucore.ShaderModuleID]*shaderModule),
		layouts:         make(map[gpucore.BindGroupLayoutID]*bindGroupLayout),
		pipelineLayouts: make(map[gpucore.PipelineLayoutID]*pipelineLayout),
		pipelines:       make(map[gpucore.ComputePipelineID]*pipeline),
		groups:          make(map[gpucore.BindGroupID]*bindGroup),
		queue:           make(chan func(), 64),
		queueDone:       make(chan struct{}),
	}
	go d.runQueue()

	slogger().Debug("software: device created",
		"workers", d.pool.Workers(),
		"max_buffer", cfg.limits.MaxBufferSize,
		"budget", cfg.budget)
	return d
}

// Info describes the device.
func (d *Device) Info() gpucore.AdapterInfo {
	return gpucore.AdapterInfo{
		Name:          d.cfg.name,
		Backend:       "software",
		ShaderFormats: gpucore.ShaderFormatHost,
	}
}

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits { return d.cfg.limits }

// Destroy stops the queue after draining pending work and releases every
// resource. Calls on a destroyed device fail with
// gpucore.ErrDeviceUnavailable.
func (d *Device) Destroy() {
	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.qmu.Unlock()

	<-d.queueDone
	d.pool.Close()

	d.mu.Lock()
	clear(d.buffers)
	clear(d.modules)
	clear(d.layouts)
	clear(d.pipelineLayouts)
	clear(d.pipelines)
	clear(d.groups)
	d.allocated = 0
	d.mu.Unlock()
}

// Counts reports live resources by kind.
type Counts struct {
	Buffers          int
	ShaderModules    int
	BindGroupLayouts int
	PipelineLayouts  int
	Pipelines        int
	BindGroups       int
}

// Total returns the number of live resources of every kind.
func (c Counts) Total() int {
	return c.Buffers + c.ShaderModules + c.BindGroupLayouts + c.PipelineLayouts + c.Pipelines + c.BindGroups
}

// Live returns the number of resources created and not yet destroyed.
func (d *Device) Live() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Counts{
		Buffers:          len(d.buffers),
		ShaderModules:    len(d.modules),
		BindGroupLayouts: len(d.layouts),
		PipelineLayouts:  len(d.pipelineLayouts),
		Pipelines:        len(d.pipelines),
		BindGroups:       len(d.groups),
	}
}

// Allocations returns the number of successful CreateBuffer calls over the
// device lifetime.
func (d *Device) Allocations() uint64 { return d.allocations.Load() }

// AllocatedBytes returns the total size of live buffers.
func (d *Device) AllocatedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

func (d *Device) newID() uint64 { return d.nextID.Add(1) }

// enqueue appends fn to the device queue.
func (d *Device) enqueue(fn func()) error {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if d.closed {
		return fmt.Errorf("software: %w", gpucore.ErrDeviceUnavailable)
	}
	d.queue <- fn
	return nil
}

func (d *Device) runQueue() {
	defer close(d.queueDone)
	for fn := range d.queue {
		fn()
	}
}

func (d *Device) isClosed() bool {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return d.closed
}
