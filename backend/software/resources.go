package software

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpufilter/gpucore"
)

type buffer struct {
	label string
	usage gpucore.BufferUsage
	data  []byte

	// err is set when the last command writing this buffer failed. It
	// travels with copies so a poisoned result can never be read back as
	// valid data. Only touched on the queue goroutine.
	err error
}

func (b *buffer) has(u gpucore.BufferUsage) bool { return b.usage&u == u }

type shaderModule struct {
	label     string
	host      gpucore.HostKernel
	workgroup [3]uint32
}

type bindGroupLayout struct {
	label   string
	entries map[uint32]gpucore.BindingType
}

type pipelineLayout struct {
	groups []*bindGroupLayout
}

type pipeline struct {
	label     string
	layout    *pipelineLayout
	host      gpucore.HostKernel
	workgroup [3]uint32
}

type boundBuffer struct {
	binding uint32
	buf     *buffer
	offset  uint64
	size    uint64
	write   bool
}

type bindGroup struct {
	label   string
	layout  *bindGroupLayout
	entries []boundBuffer
}

// CreateBuffer allocates a zero-filled buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if d.isClosed() {
		return gpucore.InvalidID, fmt.Errorf("software: %w", gpucore.ErrDeviceUnavailable)
	}
	if desc.Size == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: buffer %q has zero size: %w", desc.Label, gpucore.ErrAllocation)
	}
	if desc.Size > d.cfg.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("software: buffer %q size %d exceeds limit %d: %w",
			desc.Label, desc.Size, d.cfg.limits.MaxBufferSize, gpucore.ErrAllocation)
	}
	const mapBoth = gpucore.BufferUsageMapRead | gpucore.BufferUsageStorage
	if desc.Usage&mapBoth == mapBoth {
		return gpucore.InvalidID, fmt.Errorf("software: buffer %q combines map-read and storage usage: %w",
			desc.Label, gpucore.ErrAllocation)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.budget != 0 && d.allocated+desc.Size > d.cfg.budget {
		return gpucore.InvalidID, fmt.Errorf("software: buffer %q needs %d bytes, %d of %d in use: %w",
			desc.Label, desc.Size, d.allocated, d.cfg.budget, gpucore.ErrAllocation)
	}

	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{
		label: desc.Label,
		usage: desc.Usage,
		data:  make([]byte, desc.Size),
	}
	d.allocated += desc.Size
	d.allocations.Add(1)
	return id, nil
}

// DestroyBuffer releases a buffer. Commands already submitted keep their
// reference and complete normally.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		d.allocated -= uint64(len(b.data))
		delete(d.buffers, id)
	}
}

// WriteBuffer copies data into a copy-dst buffer. The write is queued, so it
// lands before any command buffer submitted afterwards.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	b, err := d.lookupBuffer(id)
	if err != nil {
		return err
	}
	if !b.has(gpucore.BufferUsageCopyDst) {
		return fmt.Errorf("software: write to buffer %q without copy-dst usage: %w", b.label, gpucore.ErrExecution)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("software: write of %d bytes at %d overflows buffer %q (%d bytes): %w",
			len(data), offset, b.label, len(b.data), gpucore.ErrExecution)
	}

	staged := append([]byte(nil), data...)
	return d.enqueue(func() {
		copy(b.data[offset:], staged)
		b.err = nil
	})
}

func (d *Device) lookupBuffer(id gpucore.BufferID) (*buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("software: unknown buffer %d: %w", id, gpucore.ErrExecution)
	}
	return b, nil
}

// CreateShaderModule registers a module. Only the host form is used.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc.Host == nil {
		return gpucore.InvalidID, fmt.Errorf("software: shader module %q has no host kernel: %w", desc.Label, gpucore.ErrExecution)
	}
	wg := desc.Workgroup
	for i := range wg {
		if wg[i] == 0 {
			wg[i] = 1
		}
	}
	l := d.cfg.limits
	if wg[0] > l.MaxComputeWorkgroupSizeX || wg[1] > l.MaxComputeWorkgroupSizeY || wg[2] > l.MaxComputeWorkgroupSizeZ ||
		uint64(wg[0])*uint64(wg[1])*uint64(wg[2]) > uint64(l.MaxComputeInvocationsPerWorkgroup) {
		return gpucore.InvalidID, fmt.Errorf("software: shader module %q workgroup %v exceeds device limits: %w",
			desc.Label, wg, gpucore.ErrExecution)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ShaderModuleID(d.newID())
	d.modules[id] = &shaderModule{label: desc.Label, host: desc.Host, workgroup: wg}
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.modules, id)
}

// CreateBindGroupLayout creates a bind group layout.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	entries := make(map[uint32]gpucore.BindingType, len(desc.Entries))
	for _, e := range desc.Entries {
		if _, dup := entries[e.Binding]; dup {
			return gpucore.InvalidID, fmt.Errorf("software: layout %q declares binding %d twice: %w",
				desc.Label, e.Binding, gpucore.ErrExecution)
		}
		switch e.Type {
		case gpucore.BindingTypeUniformBuffer, gpucore.BindingTypeStorageBuffer, gpucore.BindingTypeReadOnlyStorageBuffer:
		default:
			return gpucore.InvalidID, fmt.Errorf("software: layout %q binding %d has unsupported type %d: %w",
				desc.Label, e.Binding, e.Type, gpucore.ErrExecution)
		}
		entries[e.Binding] = e.Type
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupLayoutID(d.newID())
	d.layouts[id] = &bindGroupLayout{label: desc.Label, entries: entries}
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, id)
}

// CreatePipelineLayout creates a pipeline layout.
func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDesc) (gpucore.PipelineLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pl := &pipelineLayout{groups: make([]*bindGroupLayout, len(desc.BindGroupLayouts))}
	for i, lid := range desc.BindGroupLayouts {
		l, ok := d.layouts[lid]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("software: pipeline layout %q references unknown bind group layout %d: %w",
				desc.Label, lid, gpucore.ErrExecution)
		}
		pl.groups[i] = l
	}
	id := gpucore.PipelineLayoutID(d.newID())
	d.pipelineLayouts[id] = pl
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelineLayouts, id)
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc.EntryPoint == "" {
		return gpucore.InvalidID, fmt.Errorf("software: pipeline %q has no entry point: %w", desc.Label, gpucore.ErrExecution)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.modules[desc.ShaderModule]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("software: pipeline %q references unknown shader module: %w", desc.Label, gpucore.ErrExecution)
	}
	pl, ok := d.pipelineLayouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("software: pipeline %q references unknown layout: %w", desc.Label, gpucore.ErrExecution)
	}
	id := gpucore.ComputePipelineID(d.newID())
	d.pipelines[id] = &pipeline{label: desc.Label, layout: pl, host: m.host, workgroup: m.workgroup}
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, id)
}

// errAliased reports a buffer bound more than once in one group with write
// access on at least one binding.
var errAliased = errors.New("software: buffer bound for both reading and writing")

// CreateBindGroup binds buffers to a layout. Every layout entry must be
// bound exactly once with a buffer of matching usage.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	layout, ok := d.layouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("software: bind group %q references unknown layout: %w", desc.Label, gpucore.ErrExecution)
	}
	if len(desc.Entries) != len(layout.entries) {
		return gpucore.InvalidID, fmt.Errorf("software: bind group %q binds %d entries, layout %q declares %d: %w",
			desc.Label, len(desc.Entries), layout.label, len(layout.entries), gpucore.ErrExecution)
	}

	bound := make([]boundBuffer, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		typ, ok := layout.entries[e.Binding]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("software: bind group %q binding %d not in layout: %w",
				desc.Label, e.Binding, gpucore.ErrExecution)
		}
		b, ok := d.buffers[e.Buffer]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("software: bind group %q binding %d references unknown buffer: %w",
				desc.Label, e.Binding, gpucore.ErrExecution)
		}
		need := gpucore.BufferUsageStorage
		if typ == gpucore.BindingTypeUniformBuffer {
			need = gpucore.BufferUsageUniform
		}
		if !b.has(need) {
			return gpucore.InvalidID, fmt.Errorf("software: bind group %q binding %d: buffer %q lacks %s usage: %w",
				desc.Label, e.Binding, b.label, typ, gpucore.ErrExecution)
		}
		size := e.Size
		if size == 0 {
			size = uint64(len(b.data)) - min(e.Offset, uint64(len(b.data)))
		}
		if e.Offset+size > uint64(len(b.data)) || size == 0 {
			return gpucore.InvalidID, fmt.Errorf("software: bind group %q binding %d range [%d,+%d) outside buffer %q: %w",
				desc.Label, e.Binding, e.Offset, size, b.label, gpucore.ErrExecution)
		}
		if typ != gpucore.BindingTypeUniformBuffer && size > d.cfg.limits.MaxStorageBufferBindingSize {
			return gpucore.InvalidID, fmt.Errorf("software: bind group %q binding %d size %d exceeds storage binding limit: %w",
				desc.Label, e.Binding, size, gpucore.ErrAllocation)
		}
		w := typ.Writable()
		for _, prev := range bound {
			if prev.buf == b && (w || prev.write) {
				return gpucore.InvalidID, fmt.Errorf("%w: %q at bindings %d and %d: %w",
					errAliased, b.label, prev.binding, e.Binding, gpucore.ErrExecution)
			}
		}
		bound = append(bound, boundBuffer{binding: e.Binding, buf: b, offset: e.Offset, size: size, write: w})
	}

	id := gpucore.BindGroupID(d.newID())
	d.groups[id] = &bindGroup{label: desc.Label, layout: layout, entries: bound}
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups, id)
}
