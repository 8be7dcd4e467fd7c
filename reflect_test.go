package gpufilter

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestReflectProgram_Builtins(t *testing.T) {
	for _, name := range KernelNames() {
		k, _ := KernelByName(name)
		for _, p := range k.Programs() {
			si, err := ReflectProgram(p)
			if err != nil {
				t.Fatalf("%s: ReflectProgram() error: %v", name, err)
			}
			if si.EntryPoint != "main" {
				t.Errorf("%s: entry point %q", name, si.EntryPoint)
			}
			if si.Workgroup != [3]uint32{8, 8, 1} {
				t.Errorf("%s: workgroup %v, want [8 8 1]", name, si.Workgroup)
			}
			if !slices.Equal(si.Bindings, []uint32{0, 1, 2}) {
				t.Errorf("%s: bindings %v, want [0 1 2]", name, si.Bindings)
			}
			if si.DimsMembers != 3 {
				t.Errorf("%s: dims struct has %d members, want 3", name, si.DimsMembers)
			}
			if err := checkProgram(p, k.Workgroup(), 3); err != nil {
				t.Errorf("%s: checkProgram() error: %v", name, err)
			}
		}
	}
}

func TestReflectProgram_Errors(t *testing.T) {
	tests := []struct {
		name string
		p    Program
	}{
		{"no code", Program{Label: "empty", Host: pointwise(identityPixel)}},
		{"syntax error", Program{Label: "broken", Code: "fn main( {"}},
		{"missing entry point", Program{Label: "named", Code: invertShaderSource, EntryPoint: "invert"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReflectProgram(tt.p); !errors.Is(err, ErrInvalidKernel) {
				t.Errorf("ReflectProgram() error = %v, want ErrInvalidKernel", err)
			}
		})
	}
}

func TestCheckProgram_WorkgroupMismatch(t *testing.T) {
	p := Program{Label: "invert", Code: invertShaderSource}
	if err := checkProgram(p, [2]uint32{16, 16}, 0); !errors.Is(err, ErrInvalidKernel) {
		t.Errorf("checkProgram() error = %v, want ErrInvalidKernel", err)
	}
}

const noRadiusShader = `
struct Dims {
    width: u32,
    height: u32,
}

@group(0) @binding(0) var<storage, read> dims: Dims;
@group(0) @binding(1) var<storage, read> src: array<u32>;
@group(0) @binding(2) var<storage, read_write> dst: array<u32>;

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= dims.width || id.y >= dims.height) {
        return;
    }
    let i = id.y * dims.width + id.x;
    dst[i] = src[i];
}
`

func TestCheckProgram_Radius(t *testing.T) {
	p := Program{Label: "two-word-dims", Code: noRadiusShader}
	if err := checkProgram(p, DefaultWorkgroup, 0); err != nil {
		t.Errorf("checkProgram(radius 0) error: %v", err)
	}
	if err := checkProgram(p, DefaultWorkgroup, 2); !errors.Is(err, ErrInvalidKernel) {
		t.Errorf("checkProgram(radius 2) error = %v, want ErrInvalidKernel", err)
	}
}

func TestCompileSPIRV(t *testing.T) {
	words, err := compileSPIRV(invertShaderSource)
	if err != nil {
		t.Fatalf("compileSPIRV() error: %v", err)
	}
	if len(words) < 5 || words[0] != 0x07230203 {
		t.Errorf("compileSPIRV() did not produce a SPIR-V module (%d words)", len(words))
	}
}

func TestFilter_ShaderValidation(t *testing.T) {
	dc := newTestContext(t)
	in := gradient(9, 9)

	if _, err := Filter(context.Background(), dc, in, Gaussian7x7, WithShaderValidation(true)); err != nil {
		t.Fatalf("validated built-in failed: %v", err)
	}

	mismatched := MustKernel(KernelDesc{
		Name:      "wide-invert",
		Programs:  []Program{{Code: invertShaderSource, Host: pointwise(invertPixel)}},
		Workgroup: [2]uint32{16, 4},
	})
	if _, err := Filter(context.Background(), dc, in, mismatched); err != nil {
		t.Fatalf("unvalidated host run failed: %v", err)
	}
	_, err := Filter(context.Background(), dc, in, mismatched, WithShaderValidation(true))
	if !errors.Is(err, ErrInvalidKernel) {
		t.Fatalf("Filter() error = %v, want ErrInvalidKernel", err)
	}
	assertNoLiveResources(t, softwareOf(t, dc))
}
