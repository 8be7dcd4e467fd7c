//go:build wgpunative

package wgpunative

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gpufilter/gpucore"
)

type buffer struct {
	label string
	buf   *wgpu.Buffer
	size  uint64
	usage gpucore.BufferUsage
}

// Device implements gpucore.Device on a wgpu-native device.
//
// Resource maps are guarded by mu. Queue writes, submissions and buffer
// mapping are serialized by qmu, because wgpu-native polls the whole
// device to complete a map.
type Device struct {
	mu sync.RWMutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	info   gpucore.AdapterInfo
	limits gpucore.Limits

	nextID atomic.Uint64

	buffers          map[gpucore.BufferID]*buffer
	shaderModules    map[gpucore.ShaderModuleID]*wgpu.ShaderModule
	computePipelines map[gpucore.ComputePipelineID]*wgpu.ComputePipeline
	bindGroupLayouts map[gpucore.BindGroupLayoutID]*wgpu.BindGroupLayout
	pipelineLayouts  map[gpucore.PipelineLayoutID]*wgpu.PipelineLayout
	bindGroups       map[gpucore.BindGroupID]*wgpu.BindGroup

	qmu sync.Mutex
	// maps counts MapRead calls still running; Destroy waits for them.
	maps sync.WaitGroup

	log       atomic.Pointer[slog.Logger]
	destroyed atomic.Bool
}

var _ gpucore.Device = (*Device)(nil)

func newDevice(instance *wgpu.Instance, adapter *wgpu.Adapter, device *wgpu.Device, info gpucore.AdapterInfo) *Device {
	d := &Device{
		instance:         instance,
		adapter:          adapter,
		device:           device,
		queue:            device.GetQueue(),
		info:             info,
		limits:           gpucore.DefaultLimits(),
		buffers:          make(map[gpucore.BufferID]*buffer),
		shaderModules:    make(map[gpucore.ShaderModuleID]*wgpu.ShaderModule),
		computePipelines: make(map[gpucore.ComputePipelineID]*wgpu.ComputePipeline),
		bindGroupLayouts: make(map[gpucore.BindGroupLayoutID]*wgpu.BindGroupLayout),
		pipelineLayouts:  make(map[gpucore.PipelineLayoutID]*wgpu.PipelineLayout),
		bindGroups:       make(map[gpucore.BindGroupID]*wgpu.BindGroup),
	}
	d.nextID.Store(1)
	return d
}

func (d *Device) newID() uint64 { return d.nextID.Add(1) - 1 }

// Info describes the adapter.
func (d *Device) Info() gpucore.AdapterInfo { return d.info }

// Limits returns the limits the device was requested with.
func (d *Device) Limits() gpucore.Limits { return d.limits }

func (d *Device) alive() error {
	if d.destroyed.Load() {
		return fmt.Errorf("wgpunative: device destroyed: %w", gpucore.ErrDeviceUnavailable)
	}
	return nil
}

// convertUsage maps the gpucore usage bits onto wgpu-native ones.
func convertUsage(u gpucore.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u&gpucore.BufferUsageMapRead != 0 {
		out |= wgpu.BufferUsageMapRead
	}
	if u&gpucore.BufferUsageCopySrc != 0 {
		out |= wgpu.BufferUsageCopySrc
	}
	if u&gpucore.BufferUsageCopyDst != 0 {
		out |= wgpu.BufferUsageCopyDst
	}
	if u&gpucore.BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if u&gpucore.BufferUsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	return out
}

func convertBindingType(t gpucore.BindingType) (wgpu.BufferBindingType, error) {
	switch t {
	case gpucore.BindingTypeUniformBuffer:
		return wgpu.BufferBindingTypeUniform, nil
	case gpucore.BindingTypeStorageBuffer:
		return wgpu.BufferBindingTypeStorage, nil
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		return wgpu.BufferBindingTypeReadOnlyStorage, nil
	}
	var none wgpu.BufferBindingType
	return none, fmt.Errorf("unsupported binding type %v: %w", t, gpucore.ErrExecution)
}

// CreateBuffer creates a GPU buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if err := d.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil || desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: buffer size must be positive: %w", gpucore.ErrAllocation)
	}
	if desc.Size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: buffer %q of %d bytes exceeds limit %d: %w",
			desc.Label, desc.Size, d.limits.MaxBufferSize, gpucore.ErrAllocation)
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: create buffer %q: %w: %w", desc.Label, gpucore.ErrAllocation, err)
	}

	id := gpucore.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &buffer{label: desc.Label, buf: buf, size: desc.Size, usage: desc.Usage}
	d.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a GPU buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()
	if ok {
		b.buf.Release()
	}
}

func (d *Device) lookupBuffer(id gpucore.BufferID) (*buffer, error) {
	d.mu.RLock()
	b, ok := d.buffers[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wgpunative: buffer %d not found: %w", id, gpucore.ErrExecution)
	}
	return b, nil
}

// WriteBuffer writes data to a buffer through the queue.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	if err := d.alive(); err != nil {
		return err
	}
	b, err := d.lookupBuffer(id)
	if err != nil {
		return err
	}
	if b.usage&gpucore.BufferUsageCopyDst == 0 {
		return fmt.Errorf("wgpunative: write to buffer %q without copy-dst usage: %w", b.label, gpucore.ErrExecution)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("wgpunative: write of %d bytes at %d overflows buffer %q (%d bytes): %w",
			len(data), offset, b.label, b.size, gpucore.ErrExecution)
	}
	if len(data) == 0 {
		return nil
	}
	d.qmu.Lock()
	d.queue.WriteBuffer(b.buf, offset, data)
	d.qmu.Unlock()
	return nil
}

// CreateShaderModule compiles WGSL source. wgpu-native does its own
// validation, so SPIR-V and host forms are ignored.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if err := d.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil || desc.WGSL == "" {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: shader module needs WGSL source: %w", gpucore.ErrExecution)
	}
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.WGSL},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: create shader module %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}
	id := gpucore.ShaderModuleID(d.newID())
	d.mu.Lock()
	d.shaderModules[id] = module
	d.mu.Unlock()
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	m, ok := d.shaderModules[id]
	delete(d.shaderModules, id)
	d.mu.Unlock()
	if ok {
		m.Release()
	}
}

// CreateBindGroupLayout creates a bind group layout visible to compute.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if err := d.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: nil bind group layout descriptor: %w", gpucore.ErrExecution)
	}
	entries := make([]wgpu.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		typ, err := convertBindingType(e.Type)
		if err != nil {
			return gpucore.InvalidID, fmt.Errorf("wgpunative: layout %q binding %d: %w", desc.Label, e.Binding, err)
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: typ},
		}
	}
	layout, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: create bind group layout %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}
	id := gpucore.BindGroupLayoutID(d.newID())
	d.mu.Lock()
	d.bindGroupLayouts[id] = layout
	d.mu.Unlock()
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	l, ok := d.bindGroupLayouts[id]
	delete(d.bindGroupLayouts, id)
	d.mu.Unlock()
	if ok {
		l.Release()
	}
}

// CreatePipelineLayout creates a pipeline layout.
func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDesc) (gpucore.PipelineLayoutID, error) {
	if err := d.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: nil pipeline layout descriptor: %w", gpucore.ErrExecution)
	}
	d.mu.RLock()
	layouts := make([]*wgpu.BindGroupLayout, len(desc.BindGroupLayouts))
	for i, lid := range desc.BindGroupLayouts {
		l, ok := d.bindGroupLayouts[lid]
		if !ok {
			d.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("wgpunative: bind group layout %d not found: %w", lid, gpucore.ErrExecution)
		}
		layouts[i] = l
	}
	d.mu.RUnlock()

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: create pipeline layout %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}
	id := gpucore.PipelineLayoutID(d.newID())
	d.mu.Lock()
	d.pipelineLayouts[id] = layout
	d.mu.Unlock()
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.mu.Lock()
	l, ok := d.pipelineLayouts[id]
	delete(d.pipelineLayouts, id)
	d.mu.Unlock()
	if ok {
		l.Release()
	}
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if err := d.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: nil compute pipeline descriptor: %w", gpucore.ErrExecution)
	}
	d.mu.RLock()
	layout, layoutOK := d.pipelineLayouts[desc.Layout]
	module, moduleOK := d.shaderModules[desc.ShaderModule]
	d.mu.RUnlock()
	if !layoutOK {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: pipeline layout %d not found: %w", desc.Layout, gpucore.ErrExecution)
	}
	if !moduleOK {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: shader module %d not found: %w", desc.ShaderModule, gpucore.ErrExecution)
	}

	pipeline, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: create compute pipeline %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}
	id := gpucore.ComputePipelineID(d.newID())
	d.mu.Lock()
	d.computePipelines[id] = pipeline
	d.mu.Unlock()
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	p, ok := d.computePipelines[id]
	delete(d.computePipelines, id)
	d.mu.Unlock()
	if ok {
		p.Release()
	}
}

// CreateBindGroup creates a bind group. Binding one buffer twice is
// rejected.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if err := d.alive(); err != nil {
		return gpucore.InvalidID, err
	}
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: nil bind group descriptor: %w", gpucore.ErrExecution)
	}

	d.mu.RLock()
	layout, ok := d.bindGroupLayouts[desc.Layout]
	if !ok {
		d.mu.RUnlock()
		return gpucore.InvalidID, fmt.Errorf("wgpunative: bind group layout %d not found: %w", desc.Layout, gpucore.ErrExecution)
	}
	entries := make([]wgpu.BindGroupEntry, len(desc.Entries))
	seen := make(map[gpucore.BufferID]bool, len(desc.Entries))
	for i, e := range desc.Entries {
		b, ok := d.buffers[e.Buffer]
		if !ok || seen[e.Buffer] {
			d.mu.RUnlock()
			return gpucore.InvalidID, fmt.Errorf("wgpunative: bind group %q binding %d: buffer %d missing or bound twice: %w",
				desc.Label, e.Binding, e.Buffer, gpucore.ErrExecution)
		}
		seen[e.Buffer] = true
		size := e.Size
		if size == 0 {
			size = wgpu.WholeSize
		}
		entries[i] = wgpu.BindGroupEntry{
			Binding: e.Binding,
			Buffer:  b.buf,
			Offset:  e.Offset,
			Size:    size,
		}
	}
	d.mu.RUnlock()

	group, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpunative: create bind group %q: %w: %w", desc.Label, gpucore.ErrExecution, err)
	}
	id := gpucore.BindGroupID(d.newID())
	d.mu.Lock()
	d.bindGroups[id] = group
	d.mu.Unlock()
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	g, ok := d.bindGroups[id]
	delete(d.bindGroups, id)
	d.mu.Unlock()
	if ok {
		g.Release()
	}
}

// Live returns the number of resources currently tracked.
func (d *Device) Live() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.buffers) + len(d.shaderModules) + len(d.computePipelines) +
		len(d.bindGroupLayouts) + len(d.pipelineLayouts) + len(d.bindGroups)
}

// Destroy waits for running reads, releases every tracked resource and
// then the device, adapter and instance. It is safe to call more than once.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	d.maps.Wait()

	d.mu.Lock()
	for id, g := range d.bindGroups {
		g.Release()
		delete(d.bindGroups, id)
	}
	for id, p := range d.computePipelines {
		p.Release()
		delete(d.computePipelines, id)
	}
	for id, l := range d.pipelineLayouts {
		l.Release()
		delete(d.pipelineLayouts, id)
	}
	for id, l := range d.bindGroupLayouts {
		l.Release()
		delete(d.bindGroupLayouts, id)
	}
	for id, m := range d.shaderModules {
		m.Release()
		delete(d.shaderModules, id)
	}
	for id, b := range d.buffers {
		b.buf.Release()
		delete(d.buffers, id)
	}
	d.mu.Unlock()

	d.queue.Release()
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
	d.logger().Debug("wgpunative: device destroyed", "adapter", d.info.Name)
}
