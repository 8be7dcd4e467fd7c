package software

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpufilter/gpucore"
)

// resolvedDispatch is a dispatch with every ID looked up at submit time.
type resolvedDispatch struct {
	label    string
	pipeline *pipeline
	group    *bindGroup
	groups   [3]uint32
}

type resolvedCopy struct {
	src, dst       *buffer
	srcOff, dstOff uint64
	size           uint64
}

// Submit validates a command buffer against live resources and queues it.
func (d *Device) Submit(cmd gpucore.CommandBuffer) error {
	cb, ok := cmd.(*commandBuffer)
	if !ok || cb == nil {
		return fmt.Errorf("software: foreign command buffer %T: %w", cmd, gpucore.ErrExecution)
	}

	steps, err := d.resolve(cb)
	if err != nil {
		return err
	}
	return d.enqueue(func() {
		for _, s := range steps {
			switch s := s.(type) {
			case resolvedDispatch:
				d.runDispatch(s)
			case resolvedCopy:
				copy(s.dst.data[s.dstOff:s.dstOff+s.size], s.src.data[s.srcOff:s.srcOff+s.size])
				s.dst.err = s.src.err
			}
		}
	})
}

func (d *Device) resolve(cb *commandBuffer) ([]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	steps := make([]any, 0, len(cb.cmds))
	for i, c := range cb.cmds {
		switch c := c.(type) {
		case dispatchCmd:
			p, ok := d.pipelines[c.pipeline]
			if !ok {
				return nil, fmt.Errorf("software: command %d (%s) uses a destroyed pipeline: %w", i, c.label, gpucore.ErrExecution)
			}
			g, ok := d.groups[c.group]
			if !ok {
				return nil, fmt.Errorf("software: command %d (%s) uses a destroyed bind group: %w", i, c.label, gpucore.ErrExecution)
			}
			if len(p.layout.groups) == 0 || p.layout.groups[0] != g.layout {
				return nil, fmt.Errorf("software: command %d (%s): bind group layout does not match pipeline %q: %w",
					i, c.label, p.label, gpucore.ErrExecution)
			}
			if m := d.cfg.limits.MaxComputeWorkgroupsPerDimension; c.groups[0] > m || c.groups[1] > m || c.groups[2] > m {
				return nil, fmt.Errorf("software: command %d (%s) dispatches %v groups, limit %d: %w",
					i, c.label, c.groups, m, gpucore.ErrExecution)
			}
			steps = append(steps, resolvedDispatch{label: c.label, pipeline: p, group: g, groups: c.groups})
		case copyCmd:
			src, ok := d.buffers[c.src]
			if !ok {
				return nil, fmt.Errorf("software: copy %d reads a destroyed buffer: %w", i, gpucore.ErrExecution)
			}
			dst, ok := d.buffers[c.dst]
			if !ok {
				return nil, fmt.Errorf("software: copy %d writes a destroyed buffer: %w", i, gpucore.ErrExecution)
			}
			if src == dst {
				return nil, fmt.Errorf("software: copy %d has the same source and destination %q: %w", i, src.label, gpucore.ErrExecution)
			}
			if !src.has(gpucore.BufferUsageCopySrc) || !dst.has(gpucore.BufferUsageCopyDst) {
				return nil, fmt.Errorf("software: copy %d from %q to %q lacks copy usage: %w",
					i, src.label, dst.label, gpucore.ErrExecution)
			}
			if c.srcOff+c.size > uint64(len(src.data)) || c.dstOff+c.size > uint64(len(dst.data)) {
				return nil, fmt.Errorf("software: copy %d of %d bytes overflows %q or %q: %w",
					i, c.size, src.label, dst.label, gpucore.ErrExecution)
			}
			steps = append(steps, resolvedCopy{src: src, dst: dst, srcOff: c.srcOff, dstOff: c.dstOff, size: c.size})
		}
	}
	return steps, nil
}

// runDispatch executes every invocation of a dispatch. Rows of invocations
// are spread over the worker pool; the call returns when all of them have
// finished, so the next command observes every write.
func (d *Device) runDispatch(s resolvedDispatch) {
	var inputErr error
	n := uint32(0)
	for _, e := range s.group.entries {
		n = max(n, e.binding+1)
		if !e.write && e.buf.err != nil && inputErr == nil {
			inputErr = e.buf.err
		}
	}
	bindings := make(gpucore.Bindings, n)
	for _, e := range s.group.entries {
		bindings[e.binding] = e.buf.data[e.offset : e.offset+e.size]
	}

	wg := s.pipeline.workgroup
	width := s.groups[0] * wg[0]
	rows := int(s.groups[1] * wg[1] * s.groups[2] * wg[2])
	height := s.groups[1] * wg[1]

	var (
		once     sync.Once
		panicErr error
	)
	host := s.pipeline.host
	d.pool.Run(rows, func(row int) {
		defer func() {
			if r := recover(); r != nil {
				once.Do(func() {
					panicErr = fmt.Errorf("software: kernel %q panicked: %v: %w", s.pipeline.label, r, gpucore.ErrExecution)
				})
			}
		}()
		y := uint32(row) % height
		z := uint32(row) / height
		for x := range width {
			host([3]uint32{x, y, z}, bindings)
		}
	})

	err := inputErr
	if panicErr != nil {
		err = panicErr
		d.logger().Warn("software: dispatch failed", "pass", s.label, "err", panicErr)
	}
	for _, e := range s.group.entries {
		if e.write {
			e.buf.err = err
		}
	}
}

// MapRead queues a read of a map-read buffer behind all submitted work and
// delivers a copy of the range to callback on its own goroutine.
func (d *Device) MapRead(id gpucore.BufferID, offset, size uint64, callback func([]byte, error)) {
	b, err := d.lookupBuffer(id)
	if err == nil && !b.has(gpucore.BufferUsageMapRead) {
		err = fmt.Errorf("software: map of buffer %q without map-read usage: %w", b.label, gpucore.ErrExecution)
	}
	if err == nil && (offset%8 != 0 || offset+size > uint64(len(b.data))) {
		err = fmt.Errorf("software: map range [%d,+%d) invalid for buffer %q (%d bytes): %w",
			offset, size, b.label, len(b.data), gpucore.ErrExecution)
	}
	if err != nil {
		go callback(nil, err)
		return
	}

	qerr := d.enqueue(func() {
		if b.err != nil {
			go callback(nil, fmt.Errorf("software: buffer %q holds a failed result: %w", b.label, b.err))
			return
		}
		out := make([]byte, size)
		copy(out, b.data[offset:offset+size])
		go callback(out, nil)
	})
	if qerr != nil {
		go callback(nil, qerr)
	}
}
