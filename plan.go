package gpufilter

import (
	"fmt"

	"github.com/gogpu/gpufilter/internal/plan"
)

// DispatchPlan is the ordered pass schedule of one invocation.
type DispatchPlan = plan.Plan

// PassStep is one scheduled pass of a DispatchPlan.
type PassStep = plan.Step

// BufferRole names one of the two image buffers of a BufferSet.
type BufferRole = plan.Role

// Buffer roles. RoleA holds the uploaded image; RoleB is the result buffer
// of a single pass or the ping-pong partner of a chain.
const (
	RoleA = plan.RoleA
	RoleB = plan.RoleB
)

// PlanPasses schedules the passes of k over a width x height image on dc.
// Workgroup shapes or dispatch sizes beyond the device limits fail with
// ErrExecution.
func PlanPasses(dc *DeviceContext, k Kernel, width, height uint32) (DispatchPlan, error) {
	if err := dc.usable(); err != nil {
		return DispatchPlan{}, err
	}
	if k.IsZero() {
		return DispatchPlan{}, fmt.Errorf("%w: zero kernel", ErrInvalidKernel)
	}
	p, err := plan.New(k.PassCount(), k.ProgramIndex, width, height, k.Workgroup(), dc.planLimits())
	if err != nil {
		return DispatchPlan{}, fmt.Errorf("gpufilter: plan %s: %w: %w", k.Name(), ErrExecution, err)
	}
	return p, nil
}
