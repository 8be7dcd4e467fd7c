package gpufilter

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// ShaderInterface is what reflection learns about a program's WGSL.
type ShaderInterface struct {
	EntryPoint string
	Workgroup  [3]uint32

	// Bindings lists the binding numbers declared in group 0, sorted.
	Bindings []uint32

	// DimsMembers is the number of struct members the shader declares for
	// the dimensions binding; zero when it is not a struct.
	DimsMembers int
}

// ReflectProgram parses and lowers the program's WGSL with naga and
// describes its entry point.
func ReflectProgram(p Program) (ShaderInterface, error) {
	if p.Code == "" {
		return ShaderInterface{}, fmt.Errorf("%w: program %q has no WGSL", ErrInvalidKernel, p.Label)
	}
	ast, err := naga.Parse(p.Code)
	if err != nil {
		return ShaderInterface{}, fmt.Errorf("%w: program %q: %w", ErrInvalidKernel, p.Label, err)
	}
	module, err := naga.LowerWithSource(ast, p.Code)
	if err != nil {
		return ShaderInterface{}, fmt.Errorf("%w: program %q: %w", ErrInvalidKernel, p.Label, err)
	}

	name := p.entryPoint()
	idx := slices.IndexFunc(module.EntryPoints, func(ep ir.EntryPoint) bool { return ep.Name == name })
	if idx < 0 {
		return ShaderInterface{}, fmt.Errorf("%w: program %q has no entry point %q", ErrInvalidKernel, p.Label, name)
	}
	ep := module.EntryPoints[idx]
	if ep.Stage != ir.StageCompute {
		return ShaderInterface{}, fmt.Errorf("%w: program %q entry point %q is not a compute shader", ErrInvalidKernel, p.Label, name)
	}

	si := ShaderInterface{EntryPoint: ep.Name, Workgroup: ep.Workgroup}
	for _, gv := range module.GlobalVariables {
		if gv.Binding == nil || gv.Binding.Group != 0 {
			continue
		}
		si.Bindings = append(si.Bindings, gv.Binding.Binding)
		if gv.Binding.Binding == bindingDims && int(gv.Type) < len(module.Types) {
			if st, ok := module.Types[gv.Type].Inner.(ir.StructType); ok {
				si.DimsMembers = len(st.Members)
			}
		}
	}
	slices.Sort(si.Bindings)
	return si, nil
}

// checkProgram verifies that a program fits the filter pass interface and
// the kernel's workgroup shape. Kernels with a radius need programs that
// read it, the third member of the dimensions struct.
func checkProgram(p Program, workgroup [2]uint32, radius uint32) error {
	si, err := ReflectProgram(p)
	if err != nil {
		return err
	}
	wz := max(si.Workgroup[2], 1)
	if si.Workgroup[0] != workgroup[0] || si.Workgroup[1] != workgroup[1] || wz != 1 {
		return fmt.Errorf("%w: program %q declares workgroup %v, kernel uses %dx%d",
			ErrInvalidKernel, p.Label, si.Workgroup, workgroup[0], workgroup[1])
	}
	for _, b := range []uint32{bindingDims, bindingInput, bindingOutput} {
		if !slices.Contains(si.Bindings, b) {
			return fmt.Errorf("%w: program %q does not declare @group(0) @binding(%d)", ErrInvalidKernel, p.Label, b)
		}
	}
	if radius > 0 && si.DimsMembers < 3 {
		return fmt.Errorf("%w: program %q cannot see the band radius %d: binding %d declares %d members, need width, height, radius",
			ErrInvalidKernel, p.Label, radius, bindingDims, si.DimsMembers)
	}
	return nil
}

// compileSPIRV compiles WGSL to SPIR-V words.
func compileSPIRV(code string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(code)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	return words, nil
}
