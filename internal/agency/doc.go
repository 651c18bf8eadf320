// ABOUTME: Package doc for the agency coordination subsystem
// ABOUTME: Explains the ownership model between coordinator, graph, and seats

// Package agency coordinates multi-seat executions: several role-bound agent
// instances working one workflow graph toward a shared goal.
//
// The Coordinator is the subsystem's explicit lifecycle object. Each started
// agency gets a dedicated run-loop goroutine that owns every graph and
// session mutation; worker goroutines only execute seat turns and report
// results back over a channel. That single-writer discipline is what makes
// the task state machine race-free without fine-grained locking.
//
// Scheduling policy: ready tasks dispatch up to the concurrency cap, failed
// retryable tasks re-enter the queue with exponential backoff up to the retry
// budget, and a permanent failure cascades skips to its non-optional
// dependents. When the graph is terminal the aggregate outcome is computed
// from the success ratio, persisted, and announced as the stream's final
// event.
//
// Progress streams through the stream.Broadcaster: subscribers see a seat's
// events in execution order, and a dependent's start never precedes its
// dependency's success because both are published from the same run loop.
package agency
