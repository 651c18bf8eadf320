// Package store provides persistence for agency-runtime.
//
// # Overview
//
// The store package owns the durable shape of the runtime: conversations with
// their ordered message histories, and agency executions with their per-role
// seat records. The SQLite implementation (modernc.org/sqlite, pure Go) keeps
// the runtime deployable as a single binary with a single database file.
//
// # Tables
//
//   - conversations: one row per dialogue session
//   - conversation_messages: ordered messages, FK cascade from conversations
//   - agency_executions: one row per coordinated agency run
//   - agency_seats: one row per role seat, FK cascade from agency_executions
//
// # Consistency
//
// UpsertConversation is transactional: the header upsert and the
// delete-all-then-insert replacement of the message set commit together, so a
// retried or interrupted write can never leave duplicate or stale message
// rows behind. All write operations are idempotent; the session cache relies
// on this when eviction and explicit flushes race.
//
// Different sessions are isolated at row level. There is no process-global
// lock; concurrent upserts for different session IDs are safe.
//
// # Errors
//
// Lookups for missing entities return ErrNotFound. Infrastructure failures
// are wrapped in *StorageError carrying the failed operation; callers with
// optional persistence may log and continue, callers with mandatory
// persistence treat them as fatal.
package store
