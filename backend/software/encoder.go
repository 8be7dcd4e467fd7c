package software

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpufilter/gpucore"
)

type dispatchCmd struct {
	label    string
	pipeline gpucore.ComputePipelineID
	group    gpucore.BindGroupID
	groups   [3]uint32
}

type copyCmd struct {
	src, dst       gpucore.BufferID
	srcOff, dstOff uint64
	size           uint64
}

// commandBuffer is a finished recording. cmds holds dispatchCmd and copyCmd
// values in recording order.
type commandBuffer struct {
	label string
	cmds  []any
}

func (c *commandBuffer) Label() string { return c.label }

type encoder struct {
	label    string
	cmds     []any
	open     *computePass
	finished bool
	err      error
}

// CreateCommandEncoder begins recording a command buffer.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	if d.isClosed() {
		return nil, fmt.Errorf("software: %w", gpucore.ErrDeviceUnavailable)
	}
	return &encoder{label: label}, nil
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) BeginComputePass(label string) gpucore.ComputePassEncoder {
	p := &computePass{enc: e, label: label}
	switch {
	case e.finished:
		e.fail(errors.New("software: compute pass begun on finished encoder"))
	case e.open != nil:
		e.fail(fmt.Errorf("software: compute pass %q begun while %q is open", label, e.open.label))
	default:
		e.open = p
	}
	return p
}

func (e *encoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset uint64, size uint64) {
	if e.open != nil {
		e.fail(fmt.Errorf("software: copy recorded inside compute pass %q", e.open.label))
		return
	}
	if size%4 != 0 || srcOffset%4 != 0 || dstOffset%4 != 0 {
		e.fail(fmt.Errorf("software: copy offsets and size must be multiples of 4 (src %d, dst %d, size %d)",
			srcOffset, dstOffset, size))
		return
	}
	e.cmds = append(e.cmds, copyCmd{src: src, dst: dst, srcOff: srcOffset, dstOff: dstOffset, size: size})
}

func (e *encoder) Finish() (gpucore.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("software: encoder %q finished twice: %w", e.label, gpucore.ErrExecution)
	}
	e.finished = true
	if e.open != nil {
		e.fail(fmt.Errorf("software: compute pass %q not ended", e.open.label))
	}
	if e.err != nil {
		return nil, fmt.Errorf("%w: %w", e.err, gpucore.ErrExecution)
	}
	return &commandBuffer{label: e.label, cmds: e.cmds}, nil
}

type computePass struct {
	enc      *encoder
	label    string
	pipeline gpucore.ComputePipelineID
	group    gpucore.BindGroupID
	ended    bool
}

func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) { p.pipeline = id }

func (p *computePass) SetBindGroup(index uint32, group gpucore.BindGroupID) {
	if index != 0 {
		p.enc.fail(fmt.Errorf("software: pass %q sets bind group %d, only group 0 is supported", p.label, index))
		return
	}
	p.group = group
}

func (p *computePass) Dispatch(x, y, z uint32) {
	switch {
	case p.ended:
		p.enc.fail(fmt.Errorf("software: dispatch on ended pass %q", p.label))
	case p.pipeline == gpucore.InvalidID:
		p.enc.fail(fmt.Errorf("software: pass %q dispatches without a pipeline", p.label))
	case p.group == gpucore.InvalidID:
		p.enc.fail(fmt.Errorf("software: pass %q dispatches without a bind group", p.label))
	default:
		p.enc.cmds = append(p.enc.cmds, dispatchCmd{
			label:    p.label,
			pipeline: p.pipeline,
			group:    p.group,
			groups:   [3]uint32{x, y, z},
		})
	}
}

func (p *computePass) End() {
	if p.ended {
		return
	}
	p.ended = true
	if p.enc.open == p {
		p.enc.open = nil
	}
}
