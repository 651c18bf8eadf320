// Package workflow models an agency's task plan as a validated directed
// acyclic graph.
//
// # Overview
//
// A plan is a list of TaskSpecs: role-bound tasks with dependency edges.
// NewGraph validates the plan up front — duplicate or empty IDs, dangling
// dependency references, and cycles are all rejected before any task can be
// scheduled. Emergent plans produced by goal decomposition pass through the
// same constructor as static plans; decomposition output is never trusted
// unvalidated.
//
// # State machine
//
// Each task moves pending -> ready -> running -> succeeded | failed |
// skipped. A failed task re-enters ready via Requeue while the coordinator's
// retry budget lasts; once exhausted, CascadeSkip propagates skipped to every
// required dependent. Optional tasks are best-effort on both sides of an
// edge: their failure does not block dependents, and they run even when a
// dependency failed.
//
// # Locking
//
// The graph is deliberately not self-locking. The coordinator applies every
// transition under its per-agency mutex, which is what guarantees two seat
// workers can never race on the same task's state.
package workflow
