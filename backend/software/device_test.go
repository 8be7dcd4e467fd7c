package software

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpufilter/gpucore"
)

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d := New(opts...)
	t.Cleanup(d.Destroy)
	return d
}

func mustBuffer(t *testing.T, d *Device, label string, size uint64, usage gpucore.BufferUsage) gpucore.BufferID {
	t.Helper()
	id, err := d.CreateBuffer(&gpucore.BufferDesc{Label: label, Size: size, Usage: usage})
	if err != nil {
		t.Fatalf("CreateBuffer(%s) error: %v", label, err)
	}
	return id
}

// mapSync waits for MapRead and returns its result.
func mapSync(t *testing.T, d *Device, id gpucore.BufferID, size uint64) ([]byte, error) {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	d.MapRead(id, 0, size, func(data []byte, err error) { ch <- result{data, err} })
	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("MapRead callback not delivered")
		return nil, nil
	}
}

// doubleKernel writes 2*in[i] to out[i] for i < len(in).
func doubleKernel(id [3]uint32, b gpucore.Bindings) {
	in, out := b[0], b[1]
	i := id[0] * 4
	if int(i) >= len(in) {
		return
	}
	v := binary.LittleEndian.Uint32(in[i:])
	binary.LittleEndian.PutUint32(out[i:], v*2)
}

type doublePipeline struct {
	layout   gpucore.BindGroupLayoutID
	pipeline gpucore.ComputePipelineID
}

func newDoublePipeline(t *testing.T, d *Device, host gpucore.HostKernel) doublePipeline {
	t.Helper()
	layout, err := d.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: "double",
		Entries: []gpucore.BindGroupLayoutEntry{
			{Binding: 0, Type: gpucore.BindingTypeReadOnlyStorageBuffer},
			{Binding: 1, Type: gpucore.BindingTypeStorageBuffer},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	pl, err := d.CreatePipelineLayout(&gpucore.PipelineLayoutDesc{BindGroupLayouts: []gpucore.BindGroupLayoutID{layout}})
	if err != nil {
		t.Fatal(err)
	}
	mod, err := d.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "double", Host: host, Workgroup: [3]uint32{4, 1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	p, err := d.CreateComputePipeline(&gpucore.ComputePipelineDesc{Layout: pl, ShaderModule: mod, EntryPoint: "main"})
	if err != nil {
		t.Fatal(err)
	}
	return doublePipeline{layout: layout, pipeline: p}
}

func words(vs ...uint32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

func TestDispatchAndReadBack(t *testing.T) {
	d := newTestDevice(t, WithWorkers(2))
	dp := newDoublePipeline(t, d, doubleKernel)

	const size = 4 * 10
	in := mustBuffer(t, d, "in", size, gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst)
	out := mustBuffer(t, d, "out", size, gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc)
	staging := mustBuffer(t, d, "staging", size, gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)

	if err := d.WriteBuffer(in, 0, words(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)); err != nil {
		t.Fatal(err)
	}
	group, err := d.CreateBindGroup(&gpucore.BindGroupDesc{
		Layout: dp.layout,
		Entries: []gpucore.BindGroupEntry{
			{Binding: 0, Buffer: in},
			{Binding: 1, Buffer: out},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	enc, _ := d.CreateCommandEncoder("double")
	pass := enc.BeginComputePass("double")
	pass.SetPipeline(dp.pipeline)
	pass.SetBindGroup(0, group)
	pass.Dispatch(3, 1, 1) // 12 invocations for 10 elements
	pass.End()
	enc.CopyBufferToBuffer(out, 0, staging, 0, size)
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(cmd); err != nil {
		t.Fatal(err)
	}

	data, err := mapSync(t, d, staging, size)
	if err != nil {
		t.Fatal(err)
	}
	want := words(2, 4, 6, 8, 10, 12, 14, 16, 18, 20)
	if string(data) != string(want) {
		t.Errorf("read back %v, want %v", data, want)
	}
}

func TestCreateBuffer_Errors(t *testing.T) {
	limits := gpucore.DefaultLimits()
	limits.MaxBufferSize = 1024
	d := newTestDevice(t, WithLimits(limits), WithMemoryBudget(1500))

	tests := []struct {
		name  string
		size  uint64
		usage gpucore.BufferUsage
	}{
		{"zero size", 0, gpucore.BufferUsageStorage},
		{"over max buffer size", 1028, gpucore.BufferUsageStorage},
		{"map-read storage", 16, gpucore.BufferUsageStorage | gpucore.BufferUsageMapRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateBuffer(&gpucore.BufferDesc{Label: tt.name, Size: tt.size, Usage: tt.usage})
			if !errors.Is(err, gpucore.ErrAllocation) {
				t.Errorf("CreateBuffer() error = %v, want ErrAllocation", err)
			}
		})
	}

	first := mustBuffer(t, d, "first", 1024, gpucore.BufferUsageStorage)
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "second", Size: 1024, Usage: gpucore.BufferUsageStorage}); !errors.Is(err, gpucore.ErrAllocation) {
		t.Errorf("allocation over budget error = %v, want ErrAllocation", err)
	}
	d.DestroyBuffer(first)
	mustBuffer(t, d, "second", 1024, gpucore.BufferUsageStorage)
}

func TestWriteBuffer_Validation(t *testing.T) {
	d := newTestDevice(t)
	noDst := mustBuffer(t, d, "no-dst", 16, gpucore.BufferUsageStorage)
	dst := mustBuffer(t, d, "dst", 16, gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst)

	if err := d.WriteBuffer(noDst, 0, make([]byte, 4)); !errors.Is(err, gpucore.ErrExecution) {
		t.Errorf("write without copy-dst error = %v", err)
	}
	if err := d.WriteBuffer(dst, 12, make([]byte, 8)); !errors.Is(err, gpucore.ErrExecution) {
		t.Errorf("overflowing write error = %v", err)
	}
}

func TestCreateBindGroup_RejectsAliasing(t *testing.T) {
	d := newTestDevice(t)
	dp := newDoublePipeline(t, d, doubleKernel)
	buf := mustBuffer(t, d, "shared", 16, gpucore.BufferUsageStorage)

	_, err := d.CreateBindGroup(&gpucore.BindGroupDesc{
		Layout: dp.layout,
		Entries: []gpucore.BindGroupEntry{
			{Binding: 0, Buffer: buf},
			{Binding: 1, Buffer: buf},
		},
	})
	if !errors.Is(err, errAliased) {
		t.Errorf("aliased bind group error = %v, want errAliased", err)
	}
}

func TestCreateBindGroup_Validation(t *testing.T) {
	d := newTestDevice(t)
	dp := newDoublePipeline(t, d, doubleKernel)
	storage := mustBuffer(t, d, "storage", 16, gpucore.BufferUsageStorage)
	other := mustBuffer(t, d, "other", 16, gpucore.BufferUsageStorage)
	staging := mustBuffer(t, d, "staging", 16, gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)

	tests := []struct {
		name    string
		entries []gpucore.BindGroupEntry
	}{
		{"missing entry", []gpucore.BindGroupEntry{{Binding: 0, Buffer: storage}}},
		{"unknown binding", []gpucore.BindGroupEntry{{Binding: 0, Buffer: storage}, {Binding: 5, Buffer: other}}},
		{"wrong usage", []gpucore.BindGroupEntry{{Binding: 0, Buffer: staging}, {Binding: 1, Buffer: other}}},
		{"range overflow", []gpucore.BindGroupEntry{{Binding: 0, Buffer: storage, Offset: 8, Size: 16}, {Binding: 1, Buffer: other}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateBindGroup(&gpucore.BindGroupDesc{Label: tt.name, Layout: dp.layout, Entries: tt.entries})
			if !errors.Is(err, gpucore.ErrExecution) {
				t.Errorf("CreateBindGroup() error = %v, want ErrExecution", err)
			}
		})
	}
}

func TestShaderModule_RequiresHost(t *testing.T) {
	d := newTestDevice(t)
	if _, err := d.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "wgsl only", WGSL: "@compute fn main() {}"}); !errors.Is(err, gpucore.ErrExecution) {
		t.Errorf("CreateShaderModule() error = %v, want ErrExecution", err)
	}
	if _, err := d.CreateShaderModule(&gpucore.ShaderModuleDesc{Host: doubleKernel, Workgroup: [3]uint32{64, 64, 1}}); !errors.Is(err, gpucore.ErrExecution) {
		t.Errorf("oversized workgroup error = %v, want ErrExecution", err)
	}
}

func TestEncoder_RecordingErrors(t *testing.T) {
	d := newTestDevice(t)

	t.Run("unended pass", func(t *testing.T) {
		enc, _ := d.CreateCommandEncoder("e")
		enc.BeginComputePass("p")
		if _, err := enc.Finish(); !errors.Is(err, gpucore.ErrExecution) {
			t.Errorf("Finish() error = %v", err)
		}
	})
	t.Run("dispatch without pipeline", func(t *testing.T) {
		enc, _ := d.CreateCommandEncoder("e")
		p := enc.BeginComputePass("p")
		p.Dispatch(1, 1, 1)
		p.End()
		if _, err := enc.Finish(); !errors.Is(err, gpucore.ErrExecution) {
			t.Errorf("Finish() error = %v", err)
		}
	})
	t.Run("unaligned copy", func(t *testing.T) {
		enc, _ := d.CreateCommandEncoder("e")
		enc.CopyBufferToBuffer(1, 0, 2, 0, 6)
		if _, err := enc.Finish(); !errors.Is(err, gpucore.ErrExecution) {
			t.Errorf("Finish() error = %v", err)
		}
	})
	t.Run("finish twice", func(t *testing.T) {
		enc, _ := d.CreateCommandEncoder("e")
		if _, err := enc.Finish(); err != nil {
			t.Fatal(err)
		}
		if _, err := enc.Finish(); !errors.Is(err, gpucore.ErrExecution) {
			t.Errorf("second Finish() error = %v", err)
		}
	})
}

func TestPanickingKernelPoisonsResult(t *testing.T) {
	d := newTestDevice(t)
	dp := newDoublePipeline(t, d, func([3]uint32, gpucore.Bindings) { panic("boom") })

	in := mustBuffer(t, d, "in", 16, gpucore.BufferUsageStorage)
	out := mustBuffer(t, d, "out", 16, gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc)
	staging := mustBuffer(t, d, "staging", 16, gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)
	group, err := d.CreateBindGroup(&gpucore.BindGroupDesc{
		Layout:  dp.layout,
		Entries: []gpucore.BindGroupEntry{{Binding: 0, Buffer: in}, {Binding: 1, Buffer: out}},
	})
	if err != nil {
		t.Fatal(err)
	}

	enc, _ := d.CreateCommandEncoder("boom")
	pass := enc.BeginComputePass("boom")
	pass.SetPipeline(dp.pipeline)
	pass.SetBindGroup(0, group)
	pass.Dispatch(1, 1, 1)
	pass.End()
	enc.CopyBufferToBuffer(out, 0, staging, 0, 16)
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(cmd); err != nil {
		t.Fatal(err)
	}

	if _, err := mapSync(t, d, staging, 16); !errors.Is(err, gpucore.ErrExecution) {
		t.Errorf("map of poisoned buffer error = %v, want ErrExecution", err)
	}
}

func TestMapRead_Validation(t *testing.T) {
	d := newTestDevice(t)
	storage := mustBuffer(t, d, "storage", 16, gpucore.BufferUsageStorage)
	staging := mustBuffer(t, d, "staging", 16, gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst)

	if _, err := mapSync(t, d, storage, 16); !errors.Is(err, gpucore.ErrExecution) {
		t.Errorf("map without map-read usage error = %v", err)
	}
	if _, err := mapSync(t, d, staging, 32); !errors.Is(err, gpucore.ErrExecution) {
		t.Errorf("map past the end error = %v", err)
	}
	if _, err := mapSync(t, d, 9999, 4); !errors.Is(err, gpucore.ErrExecution) {
		t.Errorf("map of unknown buffer error = %v", err)
	}
}

func TestDestroy(t *testing.T) {
	d := New()
	mustBuffer(t, d, "b", 16, gpucore.BufferUsageStorage)
	if got := d.Live().Buffers; got != 1 {
		t.Fatalf("live buffers = %d, want 1", got)
	}

	d.Destroy()
	d.Destroy()

	if got := d.Live().Total(); got != 0 {
		t.Errorf("live resources after Destroy = %d, want 0", got)
	}
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 4, Usage: gpucore.BufferUsageStorage}); !errors.Is(err, gpucore.ErrDeviceUnavailable) {
		t.Errorf("CreateBuffer after Destroy error = %v, want ErrDeviceUnavailable", err)
	}
	if _, err := d.CreateCommandEncoder("late"); !errors.Is(err, gpucore.ErrDeviceUnavailable) {
		t.Errorf("CreateCommandEncoder after Destroy error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestLiveCounts(t *testing.T) {
	d := newTestDevice(t)
	a := mustBuffer(t, d, "a", 64, gpucore.BufferUsageStorage)
	b := mustBuffer(t, d, "b", 32, gpucore.BufferUsageStorage)

	if got := d.AllocatedBytes(); got != 96 {
		t.Errorf("AllocatedBytes() = %d, want 96", got)
	}
	d.DestroyBuffer(a)
	d.DestroyBuffer(b)
	d.DestroyBuffer(b)

	if got := d.AllocatedBytes(); got != 0 {
		t.Errorf("AllocatedBytes() after destroy = %d, want 0", got)
	}
	if got := d.Allocations(); got != 2 {
		t.Errorf("Allocations() = %d, want 2", got)
	}
}
