// ABOUTME: Goal decomposition for emergent-strategy agencies
// ABOUTME: Produces a task plan from a free-form goal; static plans bypass this entirely

package agency

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/agency-runtime/internal/workflow"
)

// Decomposer turns a free-form goal into a concrete task plan. Emergent
// agencies call it once at start; the resulting plan is then scheduled
// exactly like a static one.
type Decomposer interface {
	Decompose(ctx context.Context, goal string) ([]workflow.TaskSpec, error)
}

// DecomposerFunc adapts a function to the Decomposer interface.
type DecomposerFunc func(ctx context.Context, goal string) ([]workflow.TaskSpec, error)

func (f DecomposerFunc) Decompose(ctx context.Context, goal string) ([]workflow.TaskSpec, error) {
	return f(ctx, goal)
}

// PipelineDecomposer is a minimal built-in decomposer that fans a goal out to
// a fixed ordered pipeline of roles, each task depending on the previous one.
// It exists so emergent agencies work out of the box without a model-backed
// planner wired in.
type PipelineDecomposer struct {
	Roles []string
}

// Decompose builds one task per configured role, chained in order.
func (d *PipelineDecomposer) Decompose(_ context.Context, goal string) ([]workflow.TaskSpec, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, &workflow.ValidationError{Reason: "goal must not be empty"}
	}
	if len(d.Roles) == 0 {
		return nil, &workflow.ValidationError{Reason: "pipeline decomposer has no roles configured"}
	}
	specs := make([]workflow.TaskSpec, 0, len(d.Roles))
	for i, role := range d.Roles {
		spec := workflow.TaskSpec{
			TaskID:      fmt.Sprintf("%s-%d", role, i+1),
			RoleID:      role,
			Description: goal,
		}
		if i > 0 {
			spec.DependsOn = []string{specs[i-1].TaskID}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
