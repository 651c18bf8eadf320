// ABOUTME: Store interface and data types for agency-runtime persistence
// ABOUTME: Defines Conversation, Message, Execution, Seat structs and the Store interface

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// StorageError wraps a persistence failure with the operation that produced it.
// Callers decide whether storage failures are fatal (persistence mandatory) or
// degrade to memory-only operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError for the given operation.
// A nil err returns nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Conversation is the persisted header for one dialogue session.
type Conversation struct {
	SessionID       string
	UserID          string
	AgentInstanceID string
	ActiveRoleID    string
	Metadata        map[string]any
	CreatedAt       time.Time
	LastAccessedAt  time.Time
}

// Message is one persisted conversation message. Ordering within a session is
// by Position, assigned at upsert time from append order.
type Message struct {
	ID         string
	SessionID  string
	Position   int
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// ToolCall records one tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Execution is the persisted record for one agency run.
type Execution struct {
	AgencyID        string
	WorkflowID      string
	ConversationID  string
	Strategy        string // "static" or "emergent"
	AggregateStatus string // "running", "completed", "failed"
	AggregateCost   float64
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// Seat is the persisted state of one role's seat within an execution.
type Seat struct {
	AgencyID      string
	RoleID        string
	GMIInstanceID string
	Status        string
	RetryCount    int
	Cost          float64
	OutputSummary string
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExecutionFilter narrows ListExecutions results. Zero values mean "no filter";
// Limit defaults to 50 when unset.
type ExecutionFilter struct {
	Status         string
	ConversationID string
	Limit          int
}

// Store is the persistence interface for conversations and agency executions.
// All operations are idempotent so retries after partial failures are safe.
type Store interface {
	// Conversations
	UpsertConversation(ctx context.Context, conv *Conversation, messages []Message) error
	LoadConversation(ctx context.Context, sessionID string) (*Conversation, []Message, error)
	DeleteConversation(ctx context.Context, sessionID string) error
	ListActiveConversationIDs(ctx context.Context) ([]string, error)

	// Agency executions
	SaveExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, agencyID string) (*Execution, []Seat, error)
	ListExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error)
	SaveSeat(ctx context.Context, seat *Seat) error
	UpdateSeat(ctx context.Context, seat *Seat) error

	Close() error
}
