package plan

import (
	"errors"
	"math"
	"testing"
)

var defaultLimits = Limits{
	MaxWorkgroupSizeX:          256,
	MaxWorkgroupSizeY:          256,
	MaxInvocationsPerWorkgroup: 256,
	MaxWorkgroupsPerDimension:  65535,
}

func TestNew_Schedule(t *testing.T) {
	tests := []struct {
		passes uint32
		want   []Step
		final  Role
	}{
		{1, []Step{{0, 0, RoleA, RoleB}}, RoleB},
		{2, []Step{{0, 0, RoleA, RoleB}, {1, 0, RoleB, RoleA}}, RoleA},
		{3, []Step{{0, 0, RoleA, RoleB}, {1, 0, RoleB, RoleA}, {2, 0, RoleA, RoleB}}, RoleB},
	}
	for _, tt := range tests {
		p, err := New(tt.passes, nil, 16, 16, [2]uint32{8, 8}, defaultLimits)
		if err != nil {
			t.Fatalf("New(%d) error: %v", tt.passes, err)
		}
		if len(p.Steps) != len(tt.want) {
			t.Fatalf("New(%d) steps = %d, want %d", tt.passes, len(p.Steps), len(tt.want))
		}
		for i, s := range p.Steps {
			if s != tt.want[i] {
				t.Errorf("New(%d) step %d = %+v, want %+v", tt.passes, i, s, tt.want[i])
			}
		}
		if p.Final != tt.final {
			t.Errorf("New(%d) final = %s, want %s", tt.passes, p.Final, tt.final)
		}
		if err := p.Validate(); err != nil {
			t.Errorf("New(%d) produced invalid plan: %v", tt.passes, err)
		}
	}
}

func TestNew_ChainInvariant(t *testing.T) {
	for passes := uint32(1); passes <= 9; passes++ {
		p, err := New(passes, nil, 5, 3, [2]uint32{8, 8}, defaultLimits)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i+1 < len(p.Steps); i++ {
			if p.Steps[i].Output != p.Steps[i+1].Input {
				t.Errorf("passes=%d: output(%d) != input(%d)", passes, i, i+1)
			}
		}
		for i, s := range p.Steps {
			if s.Input == s.Output {
				t.Errorf("passes=%d: step %d aliases %s", passes, i, s.Input)
			}
		}
	}
}

func TestNew_Programs(t *testing.T) {
	progs := []int{0, 1, 1, 2}
	p, err := New(4, func(pass uint32) int { return progs[pass] }, 8, 8, [2]uint32{8, 8}, defaultLimits)
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range p.Steps {
		if s.Program != progs[i] {
			t.Errorf("step %d program = %d, want %d", i, s.Program, progs[i])
		}
	}
}

func TestDispatchSize(t *testing.T) {
	tests := []struct {
		w, h uint32
		wg   [2]uint32
		want [3]uint32
	}{
		{1, 1, [2]uint32{8, 8}, [3]uint32{1, 1, 1}},
		{8, 8, [2]uint32{8, 8}, [3]uint32{1, 1, 1}},
		{9, 8, [2]uint32{8, 8}, [3]uint32{2, 1, 1}},
		{640, 481, [2]uint32{8, 8}, [3]uint32{80, 61, 1}},
		{100, 3, [2]uint32{16, 4}, [3]uint32{7, 1, 1}},
		{math.MaxUint32, 1, [2]uint32{8, 8}, [3]uint32{1 << 29, 1, 1}},
		{1, math.MaxUint32 - 2, [2]uint32{1, 16}, [3]uint32{1, 1 << 28, 1}},
		{math.MaxUint32, math.MaxUint32, [2]uint32{1, 1}, [3]uint32{math.MaxUint32, math.MaxUint32, 1}},
	}
	for _, tt := range tests {
		if got := DispatchSize(tt.w, tt.h, tt.wg); got != tt.want {
			t.Errorf("DispatchSize(%d, %d, %v) = %v, want %v", tt.w, tt.h, tt.wg, got, tt.want)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		passes uint32
		w, h   uint32
		wg     [2]uint32
		limits Limits
		want   error
	}{
		{"zero passes", 0, 8, 8, [2]uint32{8, 8}, defaultLimits, ErrNoPasses},
		{"zero width", 1, 0, 8, [2]uint32{8, 8}, defaultLimits, ErrEmptyImage},
		{"zero workgroup", 1, 8, 8, [2]uint32{0, 8}, defaultLimits, ErrWorkgroup},
		{"workgroup too wide", 1, 8, 8, [2]uint32{512, 1}, defaultLimits, ErrWorkgroup},
		{"too many invocations", 1, 8, 8, [2]uint32{32, 32}, defaultLimits, ErrWorkgroup},
		{"dispatch limit", 1, 8 * 70000, 1, [2]uint32{8, 8}, defaultLimits, ErrDispatchLimit},
		{"width near max", 1, math.MaxUint32 - 3, 1, [2]uint32{8, 8}, defaultLimits, ErrDispatchLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.passes, nil, tt.w, tt.h, tt.wg, tt.limits)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNew_ZeroLimitsNotEnforced(t *testing.T) {
	if _, err := New(1, nil, 1<<20, 1, [2]uint32{1024, 1}, Limits{}); err != nil {
		t.Errorf("New() with zero limits error = %v", err)
	}
}

func TestArrangements(t *testing.T) {
	single, _ := New(1, nil, 4, 4, [2]uint32{8, 8}, defaultLimits)
	if got := single.Arrangements(); len(got) != 1 || got[0] != (Arrangement{RoleA, RoleB}) {
		t.Errorf("single-pass arrangements = %v", got)
	}

	multi, _ := New(5, nil, 4, 4, [2]uint32{8, 8}, defaultLimits)
	got := multi.Arrangements()
	want := []Arrangement{{RoleA, RoleB}, {RoleB, RoleA}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("multi-pass arrangements = %v, want %v", got, want)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		p    Plan
	}{
		{"empty", Plan{}},
		{"aliased", Plan{Steps: []Step{{Input: RoleA, Output: RoleA}}, Final: RoleA}},
		{"broken chain", Plan{Steps: []Step{
			{Pass: 0, Input: RoleA, Output: RoleB},
			{Pass: 1, Input: RoleA, Output: RoleB},
		}, Final: RoleB}},
		{"wrong final", Plan{Steps: []Step{{Input: RoleA, Output: RoleB}}, Final: RoleA}},
	}
	for _, tt := range tests {
		if err := tt.p.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tt.name)
		}
	}
}
