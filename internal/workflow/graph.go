// ABOUTME: Directed acyclic graph of role-bound tasks with state transitions
// ABOUTME: Validated at construction; adjacency kept as id-keyed tables, not object references

package workflow

import (
	"fmt"
)

// State is the lifecycle state of one task.
type State string

const (
	StatePending   State = "pending"
	StateReady     State = "ready"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Terminal reports whether the state is terminal. A failed task is only
// terminal once the scheduler has decided not to requeue it; the graph itself
// treats failed as terminal and relies on Requeue to re-enter ready.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// TaskSpec describes one task in a plan, either supplied statically by the
// caller or produced by goal decomposition. Both paths are validated
// identically.
type TaskSpec struct {
	TaskID      string   `json:"task_id" toml:"task_id"`
	RoleID      string   `json:"role_id" toml:"role_id"`
	Description string   `json:"description" toml:"description"`
	DependsOn   []string `json:"depends_on,omitempty" toml:"depends_on"`
	Optional    bool     `json:"optional,omitempty" toml:"optional"`
}

// Task is the live state of one scheduled task instance.
type Task struct {
	TaskID      string
	RoleID      string
	Description string
	DependsOn   []string
	Optional    bool
	State       State
	Attempt     int
	LastError   string
	Output      string
}

// Graph owns the task table and all state transitions. It is not
// self-locking: the coordinator applies every transition under its own
// per-agency exclusive lock, so two workers can never race on a task.
type Graph struct {
	workflowID string
	tasks      map[string]*Task
	order      []string            // insertion order, for deterministic iteration
	dependents map[string][]string // taskID -> tasks that depend on it
}

// NewGraph validates the plan and builds the task graph. Duplicate IDs,
// empty role bindings, and dangling dependency references are rejected with a
// ValidationError; cycles are rejected with a CycleError naming the cycle.
// No task is scheduled from an invalid plan.
func NewGraph(workflowID string, specs []TaskSpec) (*Graph, error) {
	if len(specs) == 0 {
		return nil, &ValidationError{Reason: "plan has no tasks"}
	}

	g := &Graph{
		workflowID: workflowID,
		tasks:      make(map[string]*Task, len(specs)),
		dependents: make(map[string][]string),
	}

	for _, spec := range specs {
		if spec.TaskID == "" {
			return nil, &ValidationError{Reason: "task with empty task_id"}
		}
		if spec.RoleID == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("task %q has no role binding", spec.TaskID)}
		}
		if _, exists := g.tasks[spec.TaskID]; exists {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate task id %q", spec.TaskID)}
		}
		g.tasks[spec.TaskID] = &Task{
			TaskID:      spec.TaskID,
			RoleID:      spec.RoleID,
			Description: spec.Description,
			DependsOn:   append([]string(nil), spec.DependsOn...),
			Optional:    spec.Optional,
			State:       StatePending,
		}
		g.order = append(g.order, spec.TaskID)
	}

	for _, id := range g.order {
		task := g.tasks[id]
		for _, dep := range task.DependsOn {
			if dep == id {
				return nil, &CycleError{Cycle: []string{id, id}}
			}
			if _, ok := g.tasks[dep]; !ok {
				return nil, &ValidationError{Reason: fmt.Sprintf("task %q depends on unknown task %q", id, dep)}
			}
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	return g, nil
}

// WorkflowID returns the graph's workflow identifier.
func (g *Graph) WorkflowID() string { return g.workflowID }

// findCycle runs a depth-first search over the dependency edges and returns
// the first cycle found as an ordered task list, or nil for an acyclic graph.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	color := make(map[string]int, len(g.tasks))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = inStack
		stack = append(stack, id)
		for _, dep := range g.tasks[id].DependsOn {
			switch color[dep] {
			case inStack:
				// Slice the stack from the first occurrence of dep to close the loop.
				for i, v := range stack {
					if v == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = done
		return nil
	}

	for _, id := range g.order {
		if color[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// depSatisfied reports whether a dependency no longer blocks a dependent.
// Success always satisfies. A terminally failed or skipped dependency
// satisfies only when one side is best-effort: either the dependency is
// optional (its outcome was never required) or the dependent is optional (it
// runs on whatever its dependencies managed to produce).
func depSatisfied(dep, dependent *Task) bool {
	switch dep.State {
	case StateSucceeded:
		return true
	case StateFailed, StateSkipped:
		return dep.Optional || dependent.Optional
	}
	return false
}

// ReadyTasks promotes every pending task whose dependencies are all satisfied
// to ready, and returns every task currently in the ready state in plan
// order. Tasks that were already ready (from a prior promotion the scheduler
// has not yet dispatched, or from Requeue) are included, so the scheduler can
// consume the batch incrementally across calls.
func (g *Graph) ReadyTasks() []*Task {
	var ready []*Task
	for _, id := range g.order {
		task := g.tasks[id]
		if task.State == StateReady {
			ready = append(ready, task)
			continue
		}
		if task.State != StatePending {
			continue
		}
		satisfied := true
		for _, dep := range task.DependsOn {
			if !depSatisfied(g.tasks[dep], task) {
				satisfied = false
				break
			}
		}
		if satisfied {
			task.State = StateReady
			ready = append(ready, task)
		}
	}
	return ready
}

// MarkRunning transitions a ready task to running.
func (g *Graph) MarkRunning(taskID string) error {
	return g.transition(taskID, StateReady, StateRunning)
}

// MarkSucceeded transitions a running task to succeeded and records its output.
func (g *Graph) MarkSucceeded(taskID, output string) error {
	if err := g.transition(taskID, StateRunning, StateSucceeded); err != nil {
		return err
	}
	g.tasks[taskID].Output = output
	return nil
}

// MarkFailed transitions a running task to failed, incrementing its attempt
// count and recording the error. Whether the failure is permanent is the
// scheduler's call: Requeue re-enters ready for a retry, CascadeSkip
// propagates a permanent failure to dependents.
func (g *Graph) MarkFailed(taskID string, taskErr error) error {
	if err := g.transition(taskID, StateRunning, StateFailed); err != nil {
		return err
	}
	task := g.tasks[taskID]
	task.Attempt++
	if taskErr != nil {
		task.LastError = taskErr.Error()
	}
	return nil
}

// Requeue re-enters a failed task into ready for another attempt.
func (g *Graph) Requeue(taskID string) error {
	return g.transition(taskID, StateFailed, StateReady)
}

// CascadeSkip marks every non-terminal required task that transitively
// depends on the given permanently-failed task as skipped, and returns the
// skipped task IDs. Two kinds of task escape the cascade: dependents of an
// optional task (its outcome was never required), and optional dependents
// (best-effort tasks still run on whatever their dependencies produced).
func (g *Graph) CascadeSkip(taskID string) []string {
	origin, ok := g.tasks[taskID]
	if !ok || origin.Optional {
		return nil
	}

	var skipped []string
	queue := []string{taskID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, depID := range g.dependents[current] {
			dependent := g.tasks[depID]
			if dependent.Optional || dependent.State.Terminal() || dependent.State == StateRunning {
				continue
			}
			dependent.State = StateSkipped
			dependent.LastError = fmt.Sprintf("dependency %q failed", current)
			skipped = append(skipped, depID)
			queue = append(queue, depID)
		}
	}
	return skipped
}

// SkipPending marks every pending or ready task as skipped with the given
// reason and returns the skipped IDs. Used on cancellation, when tasks that
// never started must still reach a terminal state.
func (g *Graph) SkipPending(reason string) []string {
	var skipped []string
	for _, id := range g.order {
		task := g.tasks[id]
		if task.State == StatePending || task.State == StateReady {
			task.State = StateSkipped
			task.LastError = reason
			skipped = append(skipped, id)
		}
	}
	return skipped
}

// IsTerminal reports whether every task is in a terminal state.
func (g *Graph) IsTerminal() bool {
	for _, task := range g.tasks {
		if !task.State.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns the number of tasks in each state.
func (g *Graph) Counts() map[State]int {
	counts := make(map[State]int)
	for _, task := range g.tasks {
		counts[task.State]++
	}
	return counts
}

// Task returns a copy of the task with the given ID.
func (g *Graph) Task(taskID string) (Task, bool) {
	task, ok := g.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Tasks returns copies of all tasks in plan order.
func (g *Graph) Tasks() []Task {
	out := make([]Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.tasks[id])
	}
	return out
}

// transition applies a single checked state change.
func (g *Graph) transition(taskID string, from, to State) error {
	task, ok := g.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %q", taskID)
	}
	if task.State != from {
		return fmt.Errorf("task %q is %s, cannot transition %s -> %s", taskID, task.State, from, to)
	}
	task.State = to
	return nil
}
