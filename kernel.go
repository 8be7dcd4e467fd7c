package gpufilter

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpufilter/gpucore"
)

// DefaultWorkgroup is the workgroup shape of every built-in kernel.
var DefaultWorkgroup = [2]uint32{8, 8}

// DefaultEntryPoint is the entry point used when a Program names none.
const DefaultEntryPoint = "main"

// Program is one compute program of a kernel.
//
// The shader reads binding 0 (a struct of width, height and band radius,
// each u32), binding 1 (input pixels) and writes binding 2 (output
// pixels). It must declare @workgroup_size matching the kernel's workgroup,
// return early for invocations outside the image and copy pixels within
// the radius of an edge through unchanged. Host is the same computation in
// Go; the software device runs it instead of the shader, and the band copy
// is applied to it by the executor.
type Program struct {
	Label      string
	Code       string
	EntryPoint string
	Host       gpucore.HostKernel
}

func (p Program) entryPoint() string {
	if p.EntryPoint == "" {
		return DefaultEntryPoint
	}
	return p.EntryPoint
}

// KernelDesc describes a kernel for NewKernel.
type KernelDesc struct {
	Name string

	// Programs lists one program per pass, or a single program that runs
	// Passes times.
	Programs []Program

	// Passes repeats a single program. Zero means one pass. It must be zero
	// or equal to len(Programs) when more than one program is given.
	Passes uint32

	// Radius is the neighbourhood radius. Pixels closer than Radius to an
	// edge are copied through unchanged by every pass of the kernel,
	// including passes whose program has a smaller radius of its own.
	Radius uint32

	// Workgroup is the workgroup shape; zero means DefaultWorkgroup.
	Workgroup [2]uint32
}

// Kernel is an immutable description of a filter: the programs it runs,
// how many passes, its neighbourhood radius and its workgroup shape.
type Kernel struct {
	name      string
	programs  []Program
	schedule  []int
	radius    uint32
	workgroup [2]uint32
}

// NewKernel validates desc and builds a Kernel.
func NewKernel(desc KernelDesc) (Kernel, error) {
	if len(desc.Programs) == 0 {
		return Kernel{}, fmt.Errorf("%w: %q has no programs", ErrInvalidKernel, desc.Name)
	}
	for i, p := range desc.Programs {
		if p.Code == "" && p.Host == nil {
			return Kernel{}, fmt.Errorf("%w: %q program %d has neither code nor host form", ErrInvalidKernel, desc.Name, i)
		}
	}

	passes := desc.Passes
	if passes == 0 {
		passes = uint32(len(desc.Programs))
	}
	if len(desc.Programs) > 1 && passes != uint32(len(desc.Programs)) {
		return Kernel{}, fmt.Errorf("%w: %q has %d programs but %d passes",
			ErrInvalidKernel, desc.Name, len(desc.Programs), passes)
	}

	wg := desc.Workgroup
	if wg == ([2]uint32{}) {
		wg = DefaultWorkgroup
	}
	if wg[0] == 0 || wg[1] == 0 {
		return Kernel{}, fmt.Errorf("%w: %q workgroup %dx%d", ErrInvalidKernel, desc.Name, wg[0], wg[1])
	}

	k := Kernel{
		name:      desc.Name,
		programs:  append([]Program(nil), desc.Programs...),
		schedule:  make([]int, passes),
		radius:    desc.Radius,
		workgroup: wg,
	}
	if len(k.programs) > 1 {
		for i := range k.schedule {
			k.schedule[i] = i
		}
	}
	for i := range k.programs {
		if k.programs[i].Label == "" {
			k.programs[i].Label = fmt.Sprintf("%s/%d", desc.Name, i)
		}
	}
	return k, nil
}

// MustKernel is like NewKernel but panics on error.
func MustKernel(desc KernelDesc) Kernel {
	k, err := NewKernel(desc)
	if err != nil {
		panic(err)
	}
	return k
}

// Name returns the kernel name.
func (k Kernel) Name() string { return k.name }

// PassCount returns the number of passes.
func (k Kernel) PassCount() uint32 { return uint32(len(k.schedule)) }

// Radius returns the neighbourhood radius.
func (k Kernel) Radius() uint32 { return k.radius }

// Workgroup returns the workgroup shape.
func (k Kernel) Workgroup() [2]uint32 { return k.workgroup }

// Programs returns the distinct programs of the kernel.
func (k Kernel) Programs() []Program { return append([]Program(nil), k.programs...) }

// ProgramIndex returns the index into Programs run by the given pass.
func (k Kernel) ProgramIndex(pass uint32) int { return k.schedule[pass] }

// IsZero reports whether k is the zero Kernel.
func (k Kernel) IsZero() bool { return len(k.schedule) == 0 }

func (k Kernel) String() string {
	return fmt.Sprintf("%s(passes=%d radius=%d workgroup=%dx%d)",
		k.name, k.PassCount(), k.radius, k.workgroup[0], k.workgroup[1])
}

// Repeat returns a kernel that runs k n times in sequence.
func Repeat(k Kernel, n uint32) (Kernel, error) {
	if n == 0 {
		return Kernel{}, fmt.Errorf("%w: repeat count must be at least 1", ErrInvalidKernel)
	}
	if k.IsZero() {
		return Kernel{}, fmt.Errorf("%w: repeat of zero kernel", ErrInvalidKernel)
	}
	out := k
	out.name = fmt.Sprintf("%s*%d", k.name, n)
	out.schedule = make([]int, 0, len(k.schedule)*int(n))
	for range n {
		out.schedule = append(out.schedule, k.schedule...)
	}
	return out, nil
}

// Chain returns a kernel running the passes of each kernel in order. All
// kernels must share a workgroup shape. The radius is the largest one, and
// every pass of the chain leaves that band untouched.
func Chain(kernels ...Kernel) (Kernel, error) {
	if len(kernels) == 0 {
		return Kernel{}, fmt.Errorf("%w: empty chain", ErrInvalidKernel)
	}
	names := make([]string, len(kernels))
	out := Kernel{workgroup: kernels[0].workgroup}
	for i, k := range kernels {
		if k.IsZero() {
			return Kernel{}, fmt.Errorf("%w: chain element %d is the zero kernel", ErrInvalidKernel, i)
		}
		if k.workgroup != out.workgroup {
			return Kernel{}, fmt.Errorf("%w: chain mixes workgroups %v and %v", ErrInvalidKernel, out.workgroup, k.workgroup)
		}
		base := len(out.programs)
		out.programs = append(out.programs, k.programs...)
		for _, p := range k.schedule {
			out.schedule = append(out.schedule, base+p)
		}
		out.radius = max(out.radius, k.radius)
		names[i] = k.name
	}
	out.name = strings.Join(names, "+")
	return out, nil
}
