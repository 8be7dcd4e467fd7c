package native

import (
	"fmt"

	"github.com/gogpu/gpufilter/gpucore"
	"github.com/gogpu/wgpu/hal"
)

// submission is one submitted command buffer and its fence. done closes
// once the fence signalled or the wait failed.
type submission struct {
	label string
	done  chan struct{}
	err   error
}

// Submit submits a finished command buffer. The call does not wait for
// the GPU; MapRead does.
func (a *HALAdapter) Submit(cmd gpucore.CommandBuffer) error {
	if err := a.alive(); err != nil {
		return err
	}
	cb, ok := cmd.(*commandBuffer)
	if !ok || cb == nil || cb.cb == nil {
		return fmt.Errorf("native: foreign or already submitted command buffer %T: %w", cmd, gpucore.ErrExecution)
	}
	halCmd := cb.cb
	cb.cb = nil

	fence, err := a.device.CreateFence()
	if err != nil {
		a.device.FreeCommandBuffer(halCmd)
		return fmt.Errorf("native: create fence: %w: %w", gpucore.ErrExecution, err)
	}

	s := &submission{label: cb.label, done: make(chan struct{})}
	a.qmu.Lock()
	err = a.queue.Submit([]hal.CommandBuffer{halCmd}, fence, 1)
	if err == nil {
		a.pending = append(a.pending, s)
	}
	a.qmu.Unlock()
	if err != nil {
		a.device.DestroyFence(fence)
		a.device.FreeCommandBuffer(halCmd)
		return fmt.Errorf("native: submit %q: %w: %w", cb.label, gpucore.ErrExecution, err)
	}

	go a.await(s, fence, halCmd)
	return nil
}

// await waits for the fence of s, then frees the command buffer and fence.
func (a *HALAdapter) await(s *submission, fence hal.Fence, cmd hal.CommandBuffer) {
	ok, err := a.device.Wait(fence, 1, a.waitTimeout)
	switch {
	case err != nil:
		s.err = fmt.Errorf("native: wait for %q: %w: %w", s.label, gpucore.ErrExecution, err)
	case !ok:
		s.err = fmt.Errorf("native: %q did not complete within %v: %w", s.label, a.waitTimeout, gpucore.ErrExecution)
	}
	a.device.FreeCommandBuffer(cmd)
	a.device.DestroyFence(fence)
	if s.err != nil {
		a.logger().Warn("native: submission failed", "label", s.label, "err", s.err)
	}
	close(s.done)

	a.qmu.Lock()
	for i, p := range a.pending {
		if p == s {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			break
		}
	}
	a.qmu.Unlock()
}

// MapRead reads a map-read buffer once every submission made before the
// call has completed. The callback runs on its own goroutine.
func (a *HALAdapter) MapRead(id gpucore.BufferID, offset, size uint64, callback func([]byte, error)) {
	b, err := a.lookupBuffer(id)
	if err == nil {
		err = a.alive()
	}
	if err == nil && b.usage&gpucore.BufferUsageMapRead == 0 {
		err = fmt.Errorf("native: map of buffer %q without map-read usage: %w", b.label, gpucore.ErrExecution)
	}
	if err == nil && (offset%8 != 0 || offset+size > b.size) {
		err = fmt.Errorf("native: map range %d+%d outside buffer %q (%d bytes): %w", offset, size, b.label, b.size, gpucore.ErrExecution)
	}
	if err != nil {
		go callback(nil, err)
		return
	}

	a.qmu.Lock()
	before := append([]*submission(nil), a.pending...)
	a.qmu.Unlock()

	go func() {
		for _, s := range before {
			<-s.done
			if s.err != nil {
				callback(nil, s.err)
				return
			}
		}
		out := make([]byte, size)
		a.qmu.Lock()
		err := a.queue.ReadBuffer(b.buf, offset, out)
		a.qmu.Unlock()
		if err != nil {
			callback(nil, fmt.Errorf("native: read back %q: %w: %w", b.label, gpucore.ErrExecution, err))
			return
		}
		callback(out, nil)
	}()
}
