// Package native implements gpucore.Device on the Pure Go gogpu/wgpu HAL.
//
// Shaders are compiled from WGSL to SPIR-V by the caller (gpufilter does
// this with naga) and handed to the HAL as SPIR-V; WGSL is passed along
// for HAL back ends that consume it directly. Each submission gets its own
// fence, and MapRead waits for every submission made before it.
package native

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpufilter/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// DefaultWaitTimeout bounds the fence wait of one submission.
const DefaultWaitTimeout = 5 * time.Second

type halBuffer struct {
	label string
	buf   hal.Buffer
	size  uint64
	usage gpucore.BufferUsage
}

// HALAdapter implements gpucore.Device using gogpu/wgpu/hal directly.
//
// Thread Safety: HALAdapter is safe for concurrent use from multiple
// goroutines. Resource maps are protected by mu; queue operations are
// serialized by qmu.
type HALAdapter struct {
	mu     sync.RWMutex
	device hal.Device
	queue  hal.Queue

	// instance is non-nil when the adapter opened the device itself and
	// must destroy both.
	instance hal.Instance
	owned    bool

	info        gpucore.AdapterInfo
	limits      gpucore.Limits
	waitTimeout time.Duration

	// ID generation
	nextID atomic.Uint64

	// Resource tracking maps gpucore IDs to hal resources
	buffers          map[gpucore.BufferID]*halBuffer
	shaderModules    map[gpucore.ShaderModuleID]hal.ShaderModule
	computePipelines map[gpucore.ComputePipelineID]hal.ComputePipeline
	bindGroupLayouts map[gpucore.BindGroupLayoutID]hal.BindGroupLayout
	pipelineLayouts  map[gpucore.PipelineLayoutID]hal.PipelineLayout
	bindGroups       map[gpucore.BindGroupID]hal.BindGroup

	qmu     sync.Mutex
	pending []*submission

	log       atomic.Pointer[slog.Logger]
	destroyed atomic.Bool
}

var _ gpucore.Device = (*HALAdapter)(nil)

// NewHALAdapter creates a new HALAdapter wrapping the given device and
// queue. The adapter does not take ownership: Destroy releases the
// resources it created but leaves the device open.
func NewHALAdapter(device hal.Device, queue hal.Queue, info gpucore.AdapterInfo, limits gpucore.Limits) *HALAdapter {
	if info.ShaderFormats == 0 {
		info.ShaderFormats = gpucore.ShaderFormatSPIRV | gpucore.ShaderFormatWGSL
	}
	a := &HALAdapter{
		device:           device,
		queue:            queue,
		info:             info,
		limits:           limits,
		waitTimeout:      DefaultWaitTimeout,
		buffers:          make(map[gpucore.BufferID]*halBuffer),
		shaderModules:    make(map[gpucore.ShaderModuleID]hal.ShaderModule),
		computePipelines: make(map[gpucore.ComputePipelineID]hal.ComputePipeline),
		bindGroupLayouts: make(map[gpucore.BindGroupLayoutID]hal.BindGroupLayout),
		pipelineLayouts:  make(map[gpucore.PipelineLayoutID]hal.PipelineLayout),
		bindGroups:       make(map[gpucore.BindGroupID]hal.BindGroup),
	}

	// Start ID generation at 1 (0 is invalid)
	a.nextID.Store(1)
	return a
}

// newID generates a unique resource ID.
func (a *HALAdapter) newID() uint64 {
	return a.nextID.Add(1) - 1
}

// Info describes the adapter.
func (a *HALAdapter) Info() gpucore.AdapterInfo { return a.info }

// Limits returns the device limits.
func (a *HALAdapter) Limits() gpucore.Limits { return a.limits }

func (a *HALAdapter) alive() error {
	if a.destroyed.Load() {
		return fmt.Errorf("native: device destroyed: %w", gpucore.ErrDeviceUnavailable)
	}
	return nil
}

// convertLimits maps HAL limits onto gpucore.Limits. Limits the HAL does
// not report keep the WebGPU defaults, clamped to the buffer size.
func convertLimits(lim gputypes.Limits) gpucore.Limits {
	out := gpucore.DefaultLimits()
	out.MaxBufferSize = uint64(lim.MaxBufferSize)
	out.MaxComputeWorkgroupSizeX = uint32(lim.MaxComputeWorkgroupSizeX)
	out.MaxComputeWorkgroupSizeY = uint32(lim.MaxComputeWorkgroupSizeY)
	out.MaxComputeWorkgroupSizeZ = uint32(lim.MaxComputeWorkgroupSizeZ)
	out.MaxStorageBufferBindingSize = min(out.MaxStorageBufferBindingSize, out.MaxBufferSize)
	return out
}

// === Buffer Management ===

// CreateBuffer creates a GPU buffer.
func (a *HALAdapter) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if err := a.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil || desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer size must be positive: %w", gpucore.ErrAllocation)
	}
	if desc.Size > a.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q of %d bytes exceeds limit %d: %w",
			desc.Label, desc.Size, a.limits.MaxBufferSize, gpucore.ErrAllocation)
	}

	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer %q: %w: %w", desc.Label, gpucore.ErrAllocation, err)
	}

	id := gpucore.BufferID(a.newID())
	a.mu.Lock()
	a.buffers[id] = &halBuffer{label: desc.Label, buf: buf, size: desc.Size, usage: desc.Usage}
	a.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a GPU buffer.
func (a *HALAdapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	b, ok := a.buffers[id]
	if ok {
		delete(a.buffers, id)
	}
	a.mu.Unlock()

	if ok {
		a.device.DestroyBuffer(b.buf)
	}
}

func (a *HALAdapter) lookupBuffer(id gpucore.BufferID) (*halBuffer, error) {
	a.mu.RLock()
	b, ok := a.buffers[id]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native: buffer %d not found: %w", id, gpucore.ErrExecution)
	}
	return b, nil
}

// WriteBuffer writes data to a buffer through the queue. The write is
// ordered before any later submission.
func (a *HALAdapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	if err := a.alive(); err != nil {
		return err
	}
	b, err := a.lookupBuffer(id)
	if err != nil {
		return err
	}
	if b.usage&gpucore.BufferUsageCopyDst == 0 {
		return fmt.Errorf("native: write to buffer %q without copy-dst usage: %w", b.label, gpucore.ErrExecution)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("native: write of %d bytes at %d overflows buffer %q (%d bytes): %w",
			len(data), offset, b.label, b.size, gpucore.ErrExecution)
	}
	if len(data) == 0 {
		return nil
	}

	a.qmu.Lock()
	a.queue.WriteBuffer(b.buf, offset, data)
	a.qmu.Unlock()
	return nil
}

// === Shader Compilation ===

// CreateShaderModule creates a shader module. SPIR-V is preferred when
// both forms are present.
func (a *HALAdapter) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if err := a.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil shader module descriptor: %w", gpucore.ErrExecution)
	}

	var src hal.ShaderSource
	switch {
	case len(desc.SPIRV) > 0:
		src.SPIRV = desc.SPIRV
	case desc.WGSL != "":
		src.WGSL = desc.WGSL
	default:
		return gpucore.InvalidID, fmt.Errorf("native: shader module %q has no SPIR-V or WGSL: %w", desc.Label, gpucore.ErrExecution)
	}

	module, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: src,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create shader module %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}

	id := gpucore.ShaderModuleID(a.newID())
	a.mu.Lock()
	a.shaderModules[id] = module
	a.mu.Unlock()
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (a *HALAdapter) DestroyShaderModule(id gpucore.ShaderModuleID) {
	a.mu.Lock()
	module, ok := a.shaderModules[id]
	if ok {
		delete(a.shaderModules, id)
	}
	a.mu.Unlock()

	if ok {
		a.device.DestroyShaderModule(module)
	}
}

// === Pipeline Management ===

// CreateBindGroupLayout creates a bind group layout visible to compute.
func (a *HALAdapter) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if err := a.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil bind group layout descriptor: %w", gpucore.ErrExecution)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		typ, err := convertBindingType(e.Type)
		if err != nil {
			return gpucore.InvalidID, fmt.Errorf("native: layout %q binding %d: %w", desc.Label, e.Binding, err)
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}

	layout, err := a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create bind group layout %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}

	id := gpucore.BindGroupLayoutID(a.newID())
	a.mu.Lock()
	a.bindGroupLayouts[id] = layout
	a.mu.Unlock()
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (a *HALAdapter) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	a.mu.Lock()
	layout, ok := a.bindGroupLayouts[id]
	if ok {
		delete(a.bindGroupLayouts, id)
	}
	a.mu.Unlock()

	if ok {
		a.device.DestroyBindGroupLayout(layout)
	}
}

// CreatePipelineLayout creates a pipeline layout.
func (a *HALAdapter) CreatePipelineLayout(desc *gpucore.PipelineLayoutDesc) (gpucore.PipelineLayoutID, error) {
	if err := a.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil pipeline layout descriptor: %w", gpucore.ErrExecution)
	}

	a.mu.RLock()
	halLayouts := make([]hal.BindGroupLayout, len(desc.BindGroupLayouts))
	for i, id := range desc.BindGroupLayouts {
		layout, ok := a.bindGroupLayouts[id]
		if !ok {
			a.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("native: bind group layout %d not found: %w", id, gpucore.ErrExecution)
		}
		halLayouts[i] = layout
	}
	a.mu.RUnlock()

	pipelineLayout, err := a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: halLayouts,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create pipeline layout %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}

	id := gpucore.PipelineLayoutID(a.newID())
	a.mu.Lock()
	a.pipelineLayouts[id] = pipelineLayout
	a.mu.Unlock()
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (a *HALAdapter) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	a.mu.Lock()
	layout, ok := a.pipelineLayouts[id]
	if ok {
		delete(a.pipelineLayouts, id)
	}
	a.mu.Unlock()

	if ok {
		a.device.DestroyPipelineLayout(layout)
	}
}

// CreateComputePipeline creates a compute pipeline.
func (a *HALAdapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if err := a.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil compute pipeline descriptor: %w", gpucore.ErrExecution)
	}

	a.mu.RLock()
	pipelineLayout, layoutOK := a.pipelineLayouts[desc.Layout]
	shaderModule, moduleOK := a.shaderModules[desc.ShaderModule]
	a.mu.RUnlock()

	if !layoutOK {
		return gpucore.InvalidID, fmt.Errorf("native: pipeline layout %d not found: %w", desc.Layout, gpucore.ErrExecution)
	}
	if !moduleOK {
		return gpucore.InvalidID, fmt.Errorf("native: shader module %d not found: %w", desc.ShaderModule, gpucore.ErrExecution)
	}

	pipeline, err := a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     shaderModule,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create compute pipeline %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}

	id := gpucore.ComputePipelineID(a.newID())
	a.mu.Lock()
	a.computePipelines[id] = pipeline
	a.mu.Unlock()
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (a *HALAdapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	pipeline, ok := a.computePipelines[id]
	if ok {
		delete(a.computePipelines, id)
	}
	a.mu.Unlock()

	if ok {
		a.device.DestroyComputePipeline(pipeline)
	}
}

// CreateBindGroup creates a bind group. A buffer may appear only once, so
// no pass can read and write the same buffer.
func (a *HALAdapter) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if err := a.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil bind group descriptor: %w", gpucore.ErrExecution)
	}

	a.mu.RLock()
	layout, ok := a.bindGroupLayouts[desc.Layout]
	if !ok {
		a.mu.RUnlock()
		return gpucore.InvalidID, fmt.Errorf("native: bind group layout %d not found: %w", desc.Layout, gpucore.ErrExecution)
	}
	entries := make([]gputypes.BindGroupEntry, len(desc.Entries))
	seen := make(map[gpucore.BufferID]bool, len(desc.Entries))
	for i, e := range desc.Entries {
		b, ok := a.buffers[e.Buffer]
		if !ok {
			a.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("native: bind group %q binding %d: buffer %d not found: %w",
				desc.Label, e.Binding, e.Buffer, gpucore.ErrExecution)
		}
		if seen[e.Buffer] {
			a.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("native: bind group %q binds buffer %q twice: %w",
				desc.Label, b.label, gpucore.ErrExecution)
		}
		seen[e.Buffer] = true
		size := e.Size
		if size == 0 {
			size = b.size - e.Offset
		}
		entries[i] = gputypes.BindGroupEntry{
			Binding:  e.Binding,
			Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: e.Offset, Size: size},
		}
	}
	a.mu.RUnlock()

	group, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create bind group %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}

	id := gpucore.BindGroupID(a.newID())
	a.mu.Lock()
	a.bindGroups[id] = group
	a.mu.Unlock()
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (a *HALAdapter) DestroyBindGroup(id gpucore.BindGroupID) {
	a.mu.Lock()
	group, ok := a.bindGroups[id]
	if ok {
		delete(a.bindGroups, id)
	}
	a.mu.Unlock()

	if ok {
		a.device.DestroyBindGroup(group)
	}
}

// Live returns the number of resources currently tracked.
func (a *HALAdapter) Live() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.buffers) + len(a.shaderModules) + len(a.computePipelines) +
		len(a.bindGroupLayouts) + len(a.pipelineLayouts) + len(a.bindGroups)
}

// Destroy waits for pending submissions, releases every resource still
// tracked and, when the adapter opened the device itself, closes the
// device and instance. It is safe to call more than once.
func (a *HALAdapter) Destroy() {
	if !a.destroyed.CompareAndSwap(false, true) {
		return
	}
	a.qmu.Lock()
	pending := a.pending
	a.pending = nil
	a.qmu.Unlock()
	for _, s := range pending {
		<-s.done
	}

	a.mu.Lock()
	for id, g := range a.bindGroups {
		a.device.DestroyBindGroup(g)
		delete(a.bindGroups, id)
	}
	for id, p := range a.computePipelines {
		a.device.DestroyComputePipeline(p)
		delete(a.computePipelines, id)
	}
	for id, l := range a.pipelineLayouts {
		a.device.DestroyPipelineLayout(l)
		delete(a.pipelineLayouts, id)
	}
	for id, l := range a.bindGroupLayouts {
		a.device.DestroyBindGroupLayout(l)
		delete(a.bindGroupLayouts, id)
	}
	for id, m := range a.shaderModules {
		a.device.DestroyShaderModule(m)
		delete(a.shaderModules, id)
	}
	for id, b := range a.buffers {
		a.device.DestroyBuffer(b.buf)
		delete(a.buffers, id)
	}
	a.mu.Unlock()

	if a.owned {
		a.device.Destroy()
		if a.instance != nil {
			a.instance.Destroy()
		}
	}
	a.logger().Debug("native: device destroyed", "adapter", a.info.Name)
}

// convertBindingType converts a gpucore binding type to the HAL buffer
// binding type.
func convertBindingType(t gpucore.BindingType) (gputypes.BufferBindingType, error) {
	switch t {
	case gpucore.BindingTypeUniformBuffer:
		return gputypes.BufferBindingTypeUniform, nil
	case gpucore.BindingTypeStorageBuffer:
		return gputypes.BufferBindingTypeStorage, nil
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		return gputypes.BufferBindingTypeReadOnlyStorage, nil
	}
	var none gputypes.BufferBindingType
	return none, fmt.Errorf("unsupported binding type %v: %w", t, gpucore.ErrExecution)
}
