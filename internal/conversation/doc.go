// Package conversation provides dialogue state tracking for agency-runtime.
//
// # Overview
//
// The package has two halves:
//
//   - Context: the in-memory representation of one dialogue — an ordered,
//     append-only message history plus metadata. Pure state and validation,
//     no I/O.
//   - SessionCache: a bounded LRU of live contexts backed by the store, so
//     dialogue state survives restarts while in-memory footprint stays
//     bounded.
//
// # Ownership
//
// Exactly one live Context exists per session ID at any time; the cache is
// the sole issuer. Whoever holds a context out of the cache owns its writes —
// in the agency coordinator that is one seat per context slice, so seat
// workers never contend.
//
// # Eviction
//
// When the cache is full the least-recently-accessed context is flushed to
// the store and then dropped. A failed flush is logged and the eviction
// proceeds: the cache's job is the memory bound, and the store's idempotent
// upsert makes a later redundant flush harmless.
package conversation
