// ABOUTME: Drives one role's agent instance through one task attempt
// ABOUTME: Guardrail checks, per-attempt timeout, retryable vs permanent classification

package seat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/agency-runtime/internal/conversation"
	"github.com/2389/agency-runtime/internal/workflow"
)

// ErrPermanent marks a turn failure that can never succeed on retry. Runners
// wrap content rejections and malformed-request errors with Permanent; plain
// errors are treated as transient.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the executor classifies it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// ExecutionError is a seat failure with its retry classification.
type ExecutionError struct {
	RoleID    string
	TaskID    string
	Retryable bool
	Err       error
}

func (e *ExecutionError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("seat %s/%s: %s failure: %v", e.RoleID, e.TaskID, kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Retryable reports whether err is a seat failure worth retrying.
func Retryable(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}
	return false
}

// Coordination is the cross-seat information the coordinator shares with a
// seat. It is passed by value with copied maps; a seat can never reach into
// a sibling's live state.
type Coordination struct {
	Goal           string
	SiblingOutputs map[string]string // taskID -> output of succeeded dependencies
}

// clone deep-copies the coordination payload.
func (c Coordination) clone() Coordination {
	outputs := make(map[string]string, len(c.SiblingOutputs))
	for k, v := range c.SiblingOutputs {
		outputs[k] = v
	}
	return Coordination{Goal: c.Goal, SiblingOutputs: outputs}
}

// Outcome is a successful seat execution.
type Outcome struct {
	Output string
	Cost   float64
}

// Executor runs exactly one role's agent instance through one task attempt.
// It owns only the seat's context slice and never touches another seat's
// state.
type Executor struct {
	runner    TurnRunner
	guardrail Guardrail // nil disables guardrail checks
	registry  *Registry // nil disables capability resolution
	timeout   time.Duration
	logger    *slog.Logger
}

// NewExecutor creates a seat executor. The timeout bounds each attempt; zero
// means no per-attempt timeout.
func NewExecutor(runner TurnRunner, guardrail Guardrail, registry *Registry, timeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		runner:    runner,
		guardrail: guardrail,
		registry:  registry,
		timeout:   timeout,
		logger:    logger.With("component", "seat"),
	}
}

// Execute runs one attempt of the task on the seat's own context slice.
// The returned error, when non-nil, is always an *ExecutionError carrying
// the retry classification: timeouts and transport errors are retryable,
// guardrail blocks and permanent runner errors are not.
func (e *Executor) Execute(ctx context.Context, task workflow.Task, conv *conversation.Context, coord Coordination) (Outcome, error) {
	fail := func(retryable bool, err error) (Outcome, error) {
		return Outcome{}, &ExecutionError{RoleID: task.RoleID, TaskID: task.TaskID, Retryable: retryable, Err: err}
	}

	if e.registry != nil {
		caps, err := e.registry.Resolve(ctx, task.RoleID)
		if err != nil {
			return fail(false, err)
		}
		conv.SetMetadata("capabilities", capabilityNames(caps))
	}

	input := buildInput(task, coord.clone())

	if e.guardrail != nil {
		verdict, err := e.guardrail.Evaluate(ctx, input, StageInput)
		if err != nil {
			return fail(true, fmt.Errorf("input guardrail: %w", err))
		}
		switch verdict.Action {
		case ActionBlock:
			return fail(false, fmt.Errorf("input blocked by guardrail: %s", verdict.Reason))
		case ActionSanitize:
			input = verdict.Sanitized
		case ActionFlag:
			conv.SetMetadata("input_flagged", verdict.Reason)
		}
	}

	userMsg := conversation.NewMessage(conversation.RoleUser, input)
	if err := conv.Append(userMsg); err != nil {
		return fail(false, err)
	}

	attemptCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := e.runner.RunTurn(attemptCtx, task.RoleID, conv, input)
	if err != nil {
		e.appendErrorMessage(conv, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(true, fmt.Errorf("turn timed out after %s: %w", e.timeout, err))
		}
		if errors.Is(err, context.Canceled) {
			return fail(false, err)
		}
		if errors.Is(err, ErrPermanent) {
			return fail(false, err)
		}
		return fail(true, err)
	}

	output := result.Content
	if e.guardrail != nil {
		verdict, gerr := e.guardrail.Evaluate(ctx, output, StageOutput)
		if gerr != nil {
			return fail(true, fmt.Errorf("output guardrail: %w", gerr))
		}
		switch verdict.Action {
		case ActionBlock:
			e.appendErrorMessage(conv, fmt.Errorf("output blocked by guardrail: %s", verdict.Reason))
			return fail(false, fmt.Errorf("output blocked by guardrail: %s", verdict.Reason))
		case ActionSanitize:
			output = verdict.Sanitized
		case ActionFlag:
			conv.SetMetadata("output_flagged", verdict.Reason)
		}
	}

	reply := conversation.NewMessage(conversation.RoleAssistant, output)
	reply.ToolCalls = result.ToolCalls
	if err := conv.Append(reply); err != nil {
		return fail(false, err)
	}

	e.logger.Debug("seat turn complete",
		"role_id", task.RoleID,
		"task_id", task.TaskID,
		"cost", result.Cost,
		"duration", time.Since(started))

	return Outcome{Output: output, Cost: result.Cost}, nil
}

// appendErrorMessage records a failure in the seat's own history. Best
// effort; an invalid error message is simply not recorded.
func (e *Executor) appendErrorMessage(conv *conversation.Context, err error) {
	_ = conv.Append(conversation.NewMessage(conversation.RoleError, err.Error()))
}

// buildInput assembles the turn input from the task description, the shared
// goal, and relevant sibling outputs.
func buildInput(task workflow.Task, coord Coordination) string {
	input := task.Description
	if input == "" {
		input = fmt.Sprintf("Perform task %s", task.TaskID)
	}
	if coord.Goal != "" {
		input = fmt.Sprintf("Goal: %s\n\nTask: %s", coord.Goal, input)
	}
	for _, dep := range task.DependsOn {
		if output, ok := coord.SiblingOutputs[dep]; ok && output != "" {
			input = fmt.Sprintf("%s\n\nOutput of %s:\n%s", input, dep, output)
		}
	}
	return input
}

// capabilityNames flattens resolved capabilities for metadata annotation.
func capabilityNames(caps Capabilities) []string {
	var names []string
	for kind, entries := range caps.Entries {
		for _, entry := range entries {
			names = append(names, fmt.Sprintf("%s:%s", kind, entry))
		}
	}
	return names
}
