// Package seat executes one role's agent instance for one task attempt.
//
// The executor owns nothing but the seat's own conversation slice. Everything
// else is a consumed collaborator: TurnRunner (the external single-turn
// model capability), Guardrail (content policy), and the capability Registry
// (role -> tools/persona lookups, a closed kind set rejected at load time).
//
// Failures are classified for the scheduler: timeouts and transport errors
// are retryable, guardrail blocks and Permanent-wrapped runner errors are
// not. The executor never blocks past its per-attempt timeout.
package seat
