// ABOUTME: Guardrail evaluator interface invoked before and after each turn
// ABOUTME: A block verdict converts the seat outcome to a non-retryable failure

package seat

import "context"

// Stage identifies where in the turn a guardrail evaluation happens.
type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
)

// Action is a guardrail decision.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionFlag     Action = "flag"
	ActionSanitize Action = "sanitize"
	ActionBlock    Action = "block"
)

// Verdict is the result of a guardrail evaluation. Sanitized carries the
// rewritten content when Action is sanitize; Reason explains flag and block
// decisions.
type Verdict struct {
	Action    Action
	Sanitized string
	Reason    string
}

// Guardrail evaluates content at a turn boundary. External collaborator;
// the runtime only interprets the verdict.
type Guardrail interface {
	Evaluate(ctx context.Context, content string, stage Stage) (Verdict, error)
}

// GuardrailFunc adapts a function to the Guardrail interface.
type GuardrailFunc func(ctx context.Context, content string, stage Stage) (Verdict, error)

// Evaluate implements Guardrail.
func (f GuardrailFunc) Evaluate(ctx context.Context, content string, stage Stage) (Verdict, error) {
	return f(ctx, content, stage)
}
