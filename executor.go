package gpufilter

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gpufilter/gpucore"
	"github.com/gogpu/gpufilter/internal/plan"
)

// Executor records and runs the passes of a DispatchPlan. One Executor
// serves any kernel; everything kernel-specific comes from the Kernel and
// the plan.
type Executor struct {
	dc *DeviceContext
	o  options
}

// NewExecutor returns an executor for dc.
func NewExecutor(dc *DeviceContext, opts ...Option) (*Executor, error) {
	if err := dc.usable(); err != nil {
		return nil, err
	}
	return &Executor{dc: dc, o: applyOptions(opts)}, nil
}

type mapResult struct {
	data []byte
	err  error
}

// Execute runs plan p of kernel k over the buffers of set and returns the
// result, which has the dimensions of the uploaded image.
//
// Execute takes ownership of set. The set and every pipeline object created
// for the invocation are released before Execute returns, except when ctx
// ends while the read-back is pending: Execute then returns ctx.Err() at
// once and the resources are released as soon as the device delivers the
// read-back.
func (e *Executor) Execute(ctx context.Context, set *BufferSet, p DispatchPlan, k Kernel) (PixelBuffer, error) {
	log := e.o.log()
	res := &passResources{dev: e.dc.Device(), groups: make(map[plan.Arrangement]gpucore.BindGroupID)}
	release := func() {
		res.release()
		set.Release()
	}

	if err := e.dc.usable(); err != nil {
		release()
		return PixelBuffer{}, err
	}
	if err := ctx.Err(); err != nil {
		release()
		return PixelBuffer{}, err
	}
	if err := e.check(set, p, k); err != nil {
		release()
		return PixelBuffer{}, err
	}
	if err := set.setRadius(k.Radius()); err != nil {
		release()
		return PixelBuffer{}, classify("upload radius", err)
	}
	if err := res.build(e.dc.Info(), set, p, k, e.o); err != nil {
		release()
		return PixelBuffer{}, classify("create pipelines", err)
	}
	if err := e.submit(set, p, k, res); err != nil {
		release()
		return PixelBuffer{}, classify("submit passes", err)
	}

	done := make(chan mapResult, 1)
	res.dev.MapRead(set.Staging(), 0, set.Size(), func(data []byte, err error) {
		done <- mapResult{data, err}
	})

	select {
	case r := <-done:
		release()
		if r.err != nil {
			return PixelBuffer{}, classify("read back result", r.err)
		}
		if uint64(len(r.data)) != set.Size() {
			return PixelBuffer{}, fmt.Errorf("gpufilter: read back %d bytes, want %d: %w", len(r.data), set.Size(), ErrExecution)
		}
		out, err := PixelBufferFromBytes(set.Width(), set.Height(), r.data[:set.Size()-set.Pad()])
		if err != nil {
			return PixelBuffer{}, classify("unpack result", err)
		}
		log.Debug("gpufilter: invocation complete", "kernel", k.Name(), "passes", p.PassCount())
		return out, nil

	case <-ctx.Done():
		log.Warn("gpufilter: invocation abandoned, releasing after read-back", "kernel", k.Name(), "err", ctx.Err())
		go func() {
			<-done
			release()
			log.Debug("gpufilter: abandoned invocation released", "kernel", k.Name())
		}()
		return PixelBuffer{}, ctx.Err()
	}
}

// check verifies that the plan, kernel and buffers describe the same
// invocation.
func (e *Executor) check(set *BufferSet, p DispatchPlan, k Kernel) error {
	if k.IsZero() {
		return fmt.Errorf("%w: zero kernel", ErrInvalidKernel)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("gpufilter: %w: %w", ErrExecution, err)
	}
	if uint32(p.PassCount()) != k.PassCount() {
		return fmt.Errorf("gpufilter: plan has %d passes, kernel %s has %d: %w",
			p.PassCount(), k.Name(), k.PassCount(), ErrExecution)
	}
	if want := plan.DispatchSize(set.Width(), set.Height(), k.Workgroup()); p.Groups != want {
		return fmt.Errorf("gpufilter: plan dispatches %v groups, %dx%d image needs %v: %w",
			p.Groups, set.Width(), set.Height(), want, ErrExecution)
	}
	for _, s := range p.Steps {
		if s.Program < 0 || s.Program >= len(k.programs) {
			return fmt.Errorf("gpufilter: pass %d runs program %d of %d: %w", s.Pass, s.Program, len(k.programs), ErrExecution)
		}
	}
	return nil
}

// submit records every pass in plan order, then the copy of the final
// buffer into staging, and submits the command buffer.
func (e *Executor) submit(set *BufferSet, p DispatchPlan, k Kernel, res *passResources) error {
	dev := res.dev
	enc, err := dev.CreateCommandEncoder("gpufilter " + k.Name())
	if err != nil {
		return err
	}
	for _, s := range p.Steps {
		pass := enc.BeginComputePass(fmt.Sprintf("%s pass %d", k.Name(), s.Pass))
		pass.SetPipeline(res.pipelines[s.Program])
		pass.SetBindGroup(0, res.groups[plan.Arrangement{Input: s.Input, Output: s.Output}])
		pass.Dispatch(p.Groups[0], p.Groups[1], p.Groups[2])
		pass.End()
	}
	enc.CopyBufferToBuffer(set.Image(p.Final), 0, set.Staging(), 0, set.Size())

	cmd, err := enc.Finish()
	if err != nil {
		return err
	}
	e.o.log().Debug("gpufilter: submitting passes",
		"kernel", k.Name(),
		"passes", p.PassCount(),
		"groups", p.Groups,
		"final", p.Final.String())
	return dev.Submit(cmd)
}

// passResources holds the pipeline objects of one invocation.
type passResources struct {
	dev            gpucore.Device
	layout         gpucore.BindGroupLayoutID
	pipelineLayout gpucore.PipelineLayoutID
	modules        []gpucore.ShaderModuleID
	pipelines      []gpucore.ComputePipelineID
	groups         map[plan.Arrangement]gpucore.BindGroupID
}

func (r *passResources) build(info gpucore.AdapterInfo, set *BufferSet, p DispatchPlan, k Kernel, o options) error {
	var err error
	r.layout, err = r.dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: "gpufilter pass",
		Entries: []gpucore.BindGroupLayoutEntry{
			{Binding: bindingDims, Type: gpucore.BindingTypeReadOnlyStorageBuffer},
			{Binding: bindingInput, Type: gpucore.BindingTypeReadOnlyStorageBuffer},
			{Binding: bindingOutput, Type: gpucore.BindingTypeStorageBuffer},
		},
	})
	if err != nil {
		return err
	}
	r.pipelineLayout, err = r.dev.CreatePipelineLayout(&gpucore.PipelineLayoutDesc{
		Label:            "gpufilter pass",
		BindGroupLayouts: []gpucore.BindGroupLayoutID{r.layout},
	})
	if err != nil {
		return err
	}

	usesCode := info.Accepts(gpucore.ShaderFormatWGSL | gpucore.ShaderFormatSPIRV)
	validate := usesCode
	if o.validate != nil {
		validate = *o.validate
	}
	wg := k.Workgroup()
	for _, prog := range k.programs {
		if validate {
			if err := checkProgram(prog, wg, k.Radius()); err != nil {
				return err
			}
		}
		desc := &gpucore.ShaderModuleDesc{
			Label:     prog.Label,
			WGSL:      prog.Code,
			Workgroup: [3]uint32{wg[0], wg[1], 1},
		}
		if prog.Host != nil {
			desc.Host = banded(prog.Host)
		}
		if usesCode && prog.Code == "" {
			return fmt.Errorf("%w: program %q has no WGSL for %s device", ErrInvalidKernel, prog.Label, info.Backend)
		}
		if info.Accepts(gpucore.ShaderFormatSPIRV) {
			if desc.SPIRV, err = compileSPIRV(prog.Code); err != nil {
				return fmt.Errorf("program %q: %w", prog.Label, err)
			}
		}
		mod, err := r.dev.CreateShaderModule(desc)
		if err != nil {
			return err
		}
		r.modules = append(r.modules, mod)

		pipe, err := r.dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
			Label:        prog.Label,
			Layout:       r.pipelineLayout,
			ShaderModule: mod,
			EntryPoint:   prog.entryPoint(),
		})
		if err != nil {
			return err
		}
		r.pipelines = append(r.pipelines, pipe)
	}

	for _, a := range p.Arrangements() {
		g, err := r.dev.CreateBindGroup(&gpucore.BindGroupDesc{
			Label:  fmt.Sprintf("gpufilter %s->%s", a.Input, a.Output),
			Layout: r.layout,
			Entries: []gpucore.BindGroupEntry{
				{Binding: bindingDims, Buffer: set.Dims(), Size: dimsSize},
				{Binding: bindingInput, Buffer: set.Image(a.Input), Size: set.Size()},
				{Binding: bindingOutput, Buffer: set.Image(a.Output), Size: set.Size()},
			},
		})
		if err != nil {
			return err
		}
		r.groups[a] = g
	}
	return nil
}

// release destroys everything build created, in reverse dependency order.
func (r *passResources) release() {
	for _, g := range r.groups {
		r.dev.DestroyBindGroup(g)
	}
	clear(r.groups)
	for _, p := range r.pipelines {
		r.dev.DestroyComputePipeline(p)
	}
	r.pipelines = nil
	for _, m := range r.modules {
		r.dev.DestroyShaderModule(m)
	}
	r.modules = nil
	if r.pipelineLayout != gpucore.InvalidID {
		r.dev.DestroyPipelineLayout(r.pipelineLayout)
		r.pipelineLayout = gpucore.InvalidID
	}
	if r.layout != gpucore.InvalidID {
		r.dev.DestroyBindGroupLayout(r.layout)
		r.layout = gpucore.InvalidID
	}
}

// classify adds operation context and makes sure the error belongs to the
// package error taxonomy, defaulting to ErrExecution.
func classify(op string, err error) error {
	for _, known := range []error{ErrExecution, ErrAllocation, ErrDeviceUnavailable, ErrSizeMismatch, ErrInvalidKernel} {
		if errors.Is(err, known) {
			return fmt.Errorf("gpufilter: %s: %w", op, err)
		}
	}
	return fmt.Errorf("gpufilter: %s: %w: %w", op, ErrExecution, err)
}
