// Package stream fans out typed agency progress events to subscribers.
//
// Each agency execution gets one topic with a monotonic sequence. The
// coordinator publishes under its own sequencing, which gives subscribers two
// ordering guarantees: events for a single seat arrive in order, and a
// dependency's seat_succeeded always precedes its dependent's seat_started.
//
// Delivery is from-subscription-forward with no replay; callers wanting
// history fetch an execution snapshot first. Backpressure policy: every
// subscriber has a bounded buffer, and one whose buffer overflows is
// disconnected. The coordinator is never blocked and a still-connected
// subscriber never silently loses an event.
package stream
