// ABOUTME: Consumed collaborator interfaces for running one seat turn
// ABOUTME: TurnRunner is the external single-turn capability; ScriptedRunner backs tests and dev mode

package seat

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389/agency-runtime/internal/conversation"
	"github.com/2389/agency-runtime/internal/store"
)

// TurnResult is the outcome of one single-turn model invocation.
type TurnResult struct {
	Content   string
	ToolCalls []store.ToolCall
	Cost      float64
}

// TurnRunner is the external single-turn processing capability. The runtime
// treats prompt construction and model invocation as opaque: it hands over
// the seat's own context slice and receives content plus cost.
//
// Error contract: transport-class failures (network, timeout, rate limit)
// should be returned as plain errors and will be retried; failures that can
// never succeed on retry must be wrapped with Permanent.
type TurnRunner interface {
	RunTurn(ctx context.Context, roleID string, conv *conversation.Context, input string) (TurnResult, error)
}

// RunnerFunc adapts a function to the TurnRunner interface.
type RunnerFunc func(ctx context.Context, roleID string, conv *conversation.Context, input string) (TurnResult, error)

// RunTurn implements TurnRunner.
func (f RunnerFunc) RunTurn(ctx context.Context, roleID string, conv *conversation.Context, input string) (TurnResult, error) {
	return f(ctx, roleID, conv, input)
}

// ScriptedRunner returns canned results per role. It backs dev mode and
// tests, standing in for a model-backed runner.
type ScriptedRunner struct {
	mu      sync.Mutex
	results map[string]TurnResult
	errs    map[string][]error // consumed front-to-back, then success
	calls   map[string]int
}

// NewScriptedRunner creates an empty scripted runner.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{
		results: make(map[string]TurnResult),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// Script sets the successful result for a role.
func (r *ScriptedRunner) Script(roleID string, result TurnResult) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[roleID] = result
	return r
}

// FailWith queues errors to return for a role before succeeding.
func (r *ScriptedRunner) FailWith(roleID string, errs ...error) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[roleID] = append(r.errs[roleID], errs...)
	return r
}

// Calls reports how many turns ran for a role.
func (r *ScriptedRunner) Calls(roleID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[roleID]
}

// RunTurn implements TurnRunner.
func (r *ScriptedRunner) RunTurn(ctx context.Context, roleID string, conv *conversation.Context, input string) (TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return TurnResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[roleID]++

	if queued := r.errs[roleID]; len(queued) > 0 {
		err := queued[0]
		r.errs[roleID] = queued[1:]
		return TurnResult{}, err
	}

	if result, ok := r.results[roleID]; ok {
		return result, nil
	}
	return TurnResult{Content: fmt.Sprintf("[%s] processed: %s", roleID, input)}, nil
}
