// Package plan schedules the compute passes of a filter invocation.
//
// Each pass reads one image buffer and writes the other. With a single pass
// the output buffer is the dedicated result buffer; with more passes the two
// buffers ping-pong and the plan records which one ends up holding the
// result.
package plan

import (
	"errors"
	"fmt"
)

// Planning errors.
var (
	ErrNoPasses       = errors.New("plan: pass count must be at least 1")
	ErrEmptyImage     = errors.New("plan: image has zero width or height")
	ErrWorkgroup      = errors.New("plan: invalid workgroup size")
	ErrDispatchLimit  = errors.New("plan: dispatch exceeds device workgroup limit")
	ErrBrokenSchedule = errors.New("plan: inconsistent pass schedule")
)

// Role names one of the two image buffers of an invocation.
type Role uint8

// Buffer roles. RoleA holds the uploaded image; RoleB is the result buffer
// of a single pass or the ping-pong partner of a multi-pass chain.
const (
	RoleA Role = iota
	RoleB
)

// Other returns the opposite role.
func (r Role) Other() Role { return r ^ 1 }

func (r Role) String() string {
	if r == RoleA {
		return "A"
	}
	return "B"
}

// Step is one scheduled compute pass.
type Step struct {
	// Pass is the zero-based pass index.
	Pass uint32

	// Program indexes the kernel program run by this pass.
	Program int

	// Input and Output are the buffers read and written.
	Input, Output Role
}

// Arrangement is an (input, output) pairing of buffer roles. Each distinct
// arrangement needs its own bind group.
type Arrangement struct {
	Input, Output Role
}

// Limits carries the device limits that bound a dispatch.
type Limits struct {
	MaxWorkgroupSizeX          uint32
	MaxWorkgroupSizeY          uint32
	MaxInvocationsPerWorkgroup uint32
	MaxWorkgroupsPerDimension  uint32
}

// Plan is the ordered schedule of an invocation.
type Plan struct {
	Steps []Step

	// Final is the buffer holding the result after the last step.
	Final Role

	// Groups is the workgroup count dispatched by every step.
	Groups [3]uint32

	// Workgroup is the kernel's workgroup shape.
	Workgroup [2]uint32
}

// New builds the plan for passCount passes over a width x height image.
// programs maps a pass index to the kernel program it runs; nil runs
// program 0 for every pass. Zero fields in limits are not enforced.
func New(passCount uint32, programs func(pass uint32) int, width, height uint32, workgroup [2]uint32, limits Limits) (Plan, error) {
	if passCount == 0 {
		return Plan{}, ErrNoPasses
	}
	if width == 0 || height == 0 {
		return Plan{}, ErrEmptyImage
	}
	if err := checkWorkgroup(workgroup, limits); err != nil {
		return Plan{}, err
	}

	groups := DispatchSize(width, height, workgroup)
	if m := limits.MaxWorkgroupsPerDimension; m != 0 && (groups[0] > m || groups[1] > m) {
		return Plan{}, fmt.Errorf("%w: %dx%d groups, limit %d", ErrDispatchLimit, groups[0], groups[1], m)
	}

	p := Plan{
		Steps:     make([]Step, passCount),
		Groups:    groups,
		Workgroup: workgroup,
	}
	in := RoleA
	for i := range passCount {
		prog := 0
		if programs != nil {
			prog = programs(i)
		}
		p.Steps[i] = Step{Pass: i, Program: prog, Input: in, Output: in.Other()}
		in = in.Other()
	}
	p.Final = p.Steps[passCount-1].Output
	return p, nil
}

func checkWorkgroup(wg [2]uint32, limits Limits) error {
	if wg[0] == 0 || wg[1] == 0 {
		return fmt.Errorf("%w: %dx%d", ErrWorkgroup, wg[0], wg[1])
	}
	if m := limits.MaxWorkgroupSizeX; m != 0 && wg[0] > m {
		return fmt.Errorf("%w: x=%d exceeds %d", ErrWorkgroup, wg[0], m)
	}
	if m := limits.MaxWorkgroupSizeY; m != 0 && wg[1] > m {
		return fmt.Errorf("%w: y=%d exceeds %d", ErrWorkgroup, wg[1], m)
	}
	if m := limits.MaxInvocationsPerWorkgroup; m != 0 && uint64(wg[0])*uint64(wg[1]) > uint64(m) {
		return fmt.Errorf("%w: %d invocations exceed %d", ErrWorkgroup, wg[0]*wg[1], m)
	}
	return nil
}

// DispatchSize returns ceil(width/wg.x) x ceil(height/wg.y) x 1. The
// rounding is done in 64 bits so sizes near MaxUint32 do not wrap.
func DispatchSize(width, height uint32, wg [2]uint32) [3]uint32 {
	return [3]uint32{
		ceilDiv(width, wg[0]),
		ceilDiv(height, wg[1]),
		1,
	}
}

func ceilDiv(n, d uint32) uint32 {
	return uint32((uint64(n) + uint64(d) - 1) / uint64(d))
}

// PassCount returns the number of scheduled passes.
func (p Plan) PassCount() int { return len(p.Steps) }

// Arrangements returns the distinct buffer arrangements in first-use order.
func (p Plan) Arrangements() []Arrangement {
	var out []Arrangement
	for _, s := range p.Steps {
		a := Arrangement{s.Input, s.Output}
		found := false
		for _, seen := range out {
			if seen == a {
				found = true
				break
			}
		}
		if !found {
			out = append(out, a)
		}
	}
	return out
}

// Validate checks that no step aliases its input and output, that every
// step reads what the previous one wrote, and that Final names the last
// output.
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return ErrNoPasses
	}
	for i, s := range p.Steps {
		if s.Input == s.Output {
			return fmt.Errorf("%w: pass %d reads and writes buffer %s", ErrBrokenSchedule, i, s.Input)
		}
		if i > 0 && p.Steps[i-1].Output != s.Input {
			return fmt.Errorf("%w: pass %d reads %s but pass %d wrote %s",
				ErrBrokenSchedule, i, s.Input, i-1, p.Steps[i-1].Output)
		}
	}
	if last := p.Steps[len(p.Steps)-1]; p.Final != last.Output {
		return fmt.Errorf("%w: final buffer %s, last pass wrote %s", ErrBrokenSchedule, p.Final, last.Output)
	}
	return nil
}
