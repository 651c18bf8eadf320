// ABOUTME: Package doc for the agencyd HTTP API
// ABOUTME: JSON control endpoints plus SSE progress streaming

// Package server exposes the agency runtime over HTTP.
//
// Control operations (start, get, list, cancel, conversation inspection) are
// JSON under /api. Progress for one agency streams over SSE from
// /api/agencies/{id}/events: the first event is a state snapshot, then live
// events follow until the terminal agency_completed or agency_failed event
// closes the stream. Errors carry a machine-readable code (validation,
// not_found, storage, not_initialized, internal) alongside the message.
//
// Authentication is optional bearer-token JWT; /api/health is always open.
package server
