package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpufilter/gpucore"
	"github.com/gogpu/wgpu/hal"
)

var errEncoderFinished = errors.New("native: command encoder already finished")

// commandEncoder records into a HAL command encoder. IDs are resolved as
// commands are recorded; the first failure is kept and returned by Finish.
type commandEncoder struct {
	a     *HALAdapter
	enc   hal.CommandEncoder
	label string

	pass     *computePass
	finished bool
	err      error
}

// CreateCommandEncoder creates a command encoder and begins encoding.
func (a *HALAdapter) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	if err := a.alive(); err != nil {
		return nil, err
	}
	enc, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder %q: %w: %w", label, gpucore.ErrExecution, err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("native: begin encoding %q: %w: %w", label, gpucore.ErrExecution, err)
	}
	return &commandEncoder{a: a, enc: enc, label: label}, nil
}

func (e *commandEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// BeginComputePass starts a compute pass. Passes must be ended before the
// next one begins.
func (e *commandEncoder) BeginComputePass(label string) gpucore.ComputePassEncoder {
	p := &computePass{e: e, label: label}
	switch {
	case e.finished:
		e.fail(errEncoderFinished)
	case e.pass != nil:
		e.fail(fmt.Errorf("native: pass %q begun while %q is open: %w", label, e.pass.label, gpucore.ErrExecution))
	default:
		p.pass = e.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
		e.pass = p
	}
	return p
}

// CopyBufferToBuffer records a buffer copy.
func (e *commandEncoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset uint64, size uint64) {
	if e.finished {
		e.fail(errEncoderFinished)
		return
	}
	if e.pass != nil {
		e.fail(fmt.Errorf("native: copy recorded inside pass %q: %w", e.pass.label, gpucore.ErrExecution))
		return
	}
	s, err := e.a.lookupBuffer(src)
	if err != nil {
		e.fail(err)
		return
	}
	d, err := e.a.lookupBuffer(dst)
	if err != nil {
		e.fail(err)
		return
	}
	if s == d || size%4 != 0 || srcOffset+size > s.size || dstOffset+size > d.size {
		e.fail(fmt.Errorf("native: invalid copy of %d bytes from %q to %q: %w", size, s.label, d.label, gpucore.ErrExecution))
		return
	}
	e.enc.CopyBufferToBuffer(s.buf, d.buf, []hal.BufferCopy{
		{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
}

// Finish ends encoding. A recording error discards the command buffer.
func (e *commandEncoder) Finish() (gpucore.CommandBuffer, error) {
	if e.finished {
		return nil, errEncoderFinished
	}
	e.finished = true
	if e.pass != nil {
		e.fail(fmt.Errorf("native: pass %q not ended: %w", e.pass.label, gpucore.ErrExecution))
		e.pass.pass.End()
		e.pass = nil
	}

	cb, err := e.enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding %q: %w: %w", e.label, gpucore.ErrExecution, err)
	}
	if e.err != nil {
		e.a.device.FreeCommandBuffer(cb)
		return nil, fmt.Errorf("native: recording %q: %w", e.label, e.err)
	}
	return &commandBuffer{label: e.label, cb: cb}, nil
}

// computePass records into a HAL compute pass. Dispatches are skipped once
// the encoder has failed.
type computePass struct {
	e     *commandEncoder
	pass  hal.ComputePassEncoder
	label string

	pipelineSet, groupSet bool
}

func (p *computePass) usable() bool {
	return p.pass != nil && p.e.err == nil && p.e.pass == p
}

// SetPipeline sets the compute pipeline.
func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) {
	if !p.usable() {
		return
	}
	p.e.a.mu.RLock()
	pipeline, ok := p.e.a.computePipelines[id]
	p.e.a.mu.RUnlock()
	if !ok {
		p.e.fail(fmt.Errorf("native: pass %q: pipeline %d not found: %w", p.label, id, gpucore.ErrExecution))
		return
	}
	p.pass.SetPipeline(pipeline)
	p.pipelineSet = true
}

// SetBindGroup sets a bind group.
func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	if !p.usable() {
		return
	}
	p.e.a.mu.RLock()
	group, ok := p.e.a.bindGroups[id]
	p.e.a.mu.RUnlock()
	if !ok {
		p.e.fail(fmt.Errorf("native: pass %q: bind group %d not found: %w", p.label, id, gpucore.ErrExecution))
		return
	}
	p.pass.SetBindGroup(index, group, nil)
	p.groupSet = true
}

// Dispatch dispatches workgroups.
func (p *computePass) Dispatch(x, y, z uint32) {
	if !p.usable() {
		return
	}
	if !p.pipelineSet || !p.groupSet {
		p.e.fail(fmt.Errorf("native: pass %q dispatches without pipeline or bind group: %w", p.label, gpucore.ErrExecution))
		return
	}
	if m := p.e.a.limits.MaxComputeWorkgroupsPerDimension; x > m || y > m || z > m {
		p.e.fail(fmt.Errorf("native: pass %q dispatches %dx%dx%d, limit %d: %w", p.label, x, y, z, m, gpucore.ErrExecution))
		return
	}
	p.pass.Dispatch(x, y, z)
}

// End ends the compute pass.
func (p *computePass) End() {
	if p.pass == nil || p.e.pass != p {
		return
	}
	p.pass.End()
	p.e.pass = nil
}

// commandBuffer is a finished HAL command buffer awaiting Submit.
type commandBuffer struct {
	label string
	cb    hal.CommandBuffer
}

// Label returns the encoder label.
func (c *commandBuffer) Label() string { return c.label }
