//go:build wgpunative

package wgpunative

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/gpufilter/gpucore"
)

// Submit submits a finished command buffer and releases it.
func (d *Device) Submit(cmd gpucore.CommandBuffer) error {
	if err := d.alive(); err != nil {
		return err
	}
	cb, ok := cmd.(*commandBuffer)
	if !ok || cb == nil || cb.cb == nil {
		return fmt.Errorf("wgpunative: foreign or already submitted command buffer %T: %w", cmd, gpucore.ErrExecution)
	}
	wcb := cb.cb
	cb.cb = nil

	d.qmu.Lock()
	d.queue.Submit(wcb)
	d.qmu.Unlock()
	wcb.Release()
	return nil
}

// MapRead maps the buffer range on a separate goroutine. Polling the device
// until the map completes also waits for every earlier submission.
func (d *Device) MapRead(id gpucore.BufferID, offset, size uint64, callback func([]byte, error)) {
	b, err := d.lookupBuffer(id)
	if err == nil {
		err = d.alive()
	}
	if err == nil && b.usage&gpucore.BufferUsageMapRead == 0 {
		err = fmt.Errorf("wgpunative: map of buffer %q without map-read usage: %w", b.label, gpucore.ErrExecution)
	}
	if err == nil && (offset%8 != 0 || offset+size > b.size) {
		err = fmt.Errorf("wgpunative: map range %d+%d outside buffer %q (%d bytes): %w", offset, size, b.label, b.size, gpucore.ErrExecution)
	}
	if err != nil {
		go callback(nil, err)
		return
	}

	d.maps.Add(1)
	go func() {
		defer d.maps.Done()
		data, err := d.mapRead(b, offset, size)
		callback(data, err)
	}()
}

func (d *Device) mapRead(b *buffer, offset, size uint64) ([]byte, error) {
	d.qmu.Lock()
	defer d.qmu.Unlock()

	done := false
	var status wgpu.BufferMapAsyncStatus
	b.buf.MapAsync(wgpu.MapModeRead, offset, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	for !done {
		d.device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("wgpunative: map %q failed with status %v: %w", b.label, status, gpucore.ErrExecution)
	}

	out := make([]byte, size)
	copy(out, b.buf.GetMappedRange(uint(offset), uint(size)))
	b.buf.Unmap()
	return out, nil
}
