// ABOUTME: Closed capability registry mapping capability kinds to resolver functions
// ABOUTME: Unknown kinds are rejected at registration time, never at use time

package seat

import (
	"context"
	"fmt"
	"sync"
)

// CapabilityKind is the closed set of capability categories a role can carry.
type CapabilityKind string

const (
	CapabilityTool      CapabilityKind = "tool"
	CapabilityPersona   CapabilityKind = "persona"
	CapabilityGuardrail CapabilityKind = "guardrail"
	CapabilityWorkflow  CapabilityKind = "workflow"
)

// Valid reports whether the kind is one of the closed capability kinds.
func (k CapabilityKind) Valid() bool {
	switch k {
	case CapabilityTool, CapabilityPersona, CapabilityGuardrail, CapabilityWorkflow:
		return true
	}
	return false
}

// Capabilities is what a role resolves to: the named entries per kind.
// The runtime consumes these as opaque lookups.
type Capabilities struct {
	RoleID  string
	Entries map[CapabilityKind][]string
}

// CapabilityResolver resolves the entries of one capability kind for a role.
type CapabilityResolver func(ctx context.Context, roleID string) ([]string, error)

// Registry maps capability kinds to resolver functions. It is read-only for
// the executor; registration happens at runtime assembly.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[CapabilityKind]CapabilityResolver
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[CapabilityKind]CapabilityResolver)}
}

// Register binds a resolver to a capability kind. Unknown kinds are rejected
// here, at load time, so a misconfigured extension can never reach a seat.
func (r *Registry) Register(kind CapabilityKind, resolver CapabilityResolver) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown capability kind %q", kind)
	}
	if resolver == nil {
		return fmt.Errorf("nil resolver for capability kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[kind] = resolver
	return nil
}

// Resolve runs every registered resolver for the role and collects the
// results. Kinds with no registered resolver are simply absent.
func (r *Registry) Resolve(ctx context.Context, roleID string) (Capabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := Capabilities{RoleID: roleID, Entries: make(map[CapabilityKind][]string)}
	for kind, resolver := range r.resolvers {
		entries, err := resolver(ctx, roleID)
		if err != nil {
			return Capabilities{}, fmt.Errorf("resolving %s capabilities for role %q: %w", kind, roleID, err)
		}
		if len(entries) > 0 {
			caps.Entries[kind] = entries
		}
	}
	return caps, nil
}
