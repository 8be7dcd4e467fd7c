//go:build wgpunative

package wgpunative

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gpufilter/gpucore"
)

var errEncoderFinished = errors.New("wgpunative: command encoder already finished")

type commandEncoder struct {
	d     *Device
	enc   *wgpu.CommandEncoder
	label string

	pass     *computePass
	finished bool
	err      error
}

// CreateCommandEncoder creates a command encoder.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("wgpunative: create command encoder %q: %w: %w", label, gpucore.ErrExecution, err)
	}
	return &commandEncoder{d: d, enc: enc, label: label}, nil
}

func (e *commandEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *commandEncoder) BeginComputePass(label string) gpucore.ComputePassEncoder {
	p := &computePass{e: e, label: label}
	switch {
	case e.finished:
		e.fail(errEncoderFinished)
	case e.pass != nil:
		e.fail(fmt.Errorf("wgpunative: pass %q begun while %q is open: %w", label, e.pass.label, gpucore.ErrExecution))
	default:
		p.pass = e.enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
		e.pass = p
	}
	return p
}

func (e *commandEncoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset uint64, size uint64) {
	if e.finished {
		e.fail(errEncoderFinished)
		return
	}
	if e.pass != nil {
		e.fail(fmt.Errorf("wgpunative: copy recorded inside pass %q: %w", e.pass.label, gpucore.ErrExecution))
		return
	}
	s, err := e.d.lookupBuffer(src)
	if err != nil {
		e.fail(err)
		return
	}
	t, err := e.d.lookupBuffer(dst)
	if err != nil {
		e.fail(err)
		return
	}
	if s == t || size%4 != 0 || srcOffset+size > s.size || dstOffset+size > t.size {
		e.fail(fmt.Errorf("wgpunative: invalid copy of %d bytes from %q to %q: %w", size, s.label, t.label, gpucore.ErrExecution))
		return
	}
	e.enc.CopyBufferToBuffer(s.buf, srcOffset, t.buf, dstOffset, size)
}

// Finish ends recording. The wgpu encoder is released either way.
func (e *commandEncoder) Finish() (gpucore.CommandBuffer, error) {
	if e.finished {
		return nil, errEncoderFinished
	}
	e.finished = true
	defer e.enc.Release()
	if e.pass != nil {
		e.fail(fmt.Errorf("wgpunative: pass %q not ended: %w", e.pass.label, gpucore.ErrExecution))
		e.pass.end()
	}

	cb, err := e.enc.Finish(&wgpu.CommandBufferDescriptor{Label: e.label})
	if err != nil {
		return nil, fmt.Errorf("wgpunative: finish %q: %w: %w", e.label, gpucore.ErrExecution, err)
	}
	if e.err != nil {
		cb.Release()
		return nil, fmt.Errorf("wgpunative: recording %q: %w", e.label, e.err)
	}
	return &commandBuffer{label: e.label, cb: cb}, nil
}

type computePass struct {
	e     *commandEncoder
	pass  *wgpu.ComputePassEncoder
	label string

	pipelineSet, groupSet bool
}

func (p *computePass) usable() bool {
	return p.pass != nil && p.e.err == nil && p.e.pass == p
}

func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) {
	if !p.usable() {
		return
	}
	p.e.d.mu.RLock()
	pipeline, ok := p.e.d.computePipelines[id]
	p.e.d.mu.RUnlock()
	if !ok {
		p.e.fail(fmt.Errorf("wgpunative: pass %q: pipeline %d not found: %w", p.label, id, gpucore.ErrExecution))
		return
	}
	p.pass.SetPipeline(pipeline)
	p.pipelineSet = true
}

func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	if !p.usable() {
		return
	}
	p.e.d.mu.RLock()
	group, ok := p.e.d.bindGroups[id]
	p.e.d.mu.RUnlock()
	if !ok {
		p.e.fail(fmt.Errorf("wgpunative: pass %q: bind group %d not found: %w", p.label, id, gpucore.ErrExecution))
		return
	}
	p.pass.SetBindGroup(index, group, nil)
	p.groupSet = true
}

func (p *computePass) Dispatch(x, y, z uint32) {
	if !p.usable() {
		return
	}
	if !p.pipelineSet || !p.groupSet {
		p.e.fail(fmt.Errorf("wgpunative: pass %q dispatches without pipeline or bind group: %w", p.label, gpucore.ErrExecution))
		return
	}
	if m := p.e.d.limits.MaxComputeWorkgroupsPerDimension; x > m || y > m || z > m {
		p.e.fail(fmt.Errorf("wgpunative: pass %q dispatches %dx%dx%d, limit %d: %w", p.label, x, y, z, m, gpucore.ErrExecution))
		return
	}
	p.pass.DispatchWorkgroups(x, y, z)
}

func (p *computePass) End() {
	if p.pass == nil || p.e.pass != p {
		return
	}
	p.end()
}

func (p *computePass) end() {
	p.pass.End()
	p.pass.Release()
	p.e.pass = nil
}

type commandBuffer struct {
	label string
	cb    *wgpu.CommandBuffer
}

// Label returns the encoder label.
func (c *commandBuffer) Label() string { return c.label }
