// ABOUTME: Validation error types for workflow task graphs
// ABOUTME: CycleError and ValidationError both match ErrValidation via errors.Is

package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is the root of the validation error taxonomy. Malformed plans
// and cyclic graphs are rejected before any task is scheduled; they are never
// silently repaired.
var ErrValidation = errors.New("validation failed")

// CycleError reports a dependency cycle, naming the offending tasks in order.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow graph contains a cycle: %s", strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrValidation }

// ValidationError reports a structurally invalid plan, such as a dangling
// dependency reference or a duplicate task ID.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow plan: %s", e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
