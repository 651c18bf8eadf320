// ABOUTME: In-memory conversation context with ordered messages and metadata
// ABOUTME: Pure state plus validation; serialization round-trips byte-exactly

package conversation

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agency-runtime/internal/store"
)

// Role identifies the author kind of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleError     Role = "error"
)

// Valid reports whether the role is one of the known message roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleError:
		return true
	}
	return false
}

// Message is one immutable entry in a conversation. Once appended it is never
// modified or reordered.
type Message struct {
	ID         string           `json:"id"`
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	Timestamp  time.Time        `json:"timestamp"`
	ToolCalls  []store.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// NewMessage constructs a message with a generated ID and UTC timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Context is the in-memory representation of one dialogue: ordered messages
// plus metadata. It performs no network or disk I/O.
//
// Ownership contract: the session cache hands out at most one live Context per
// session ID, and callers must serialize writes per session. The internal
// mutex only protects snapshot reads against a concurrent owner write; it is
// not a license to share the context across mutators.
type Context struct {
	SessionID       string
	UserID          string
	AgentInstanceID string
	ActiveRoleID    string
	CreatedAt       time.Time

	mu             sync.RWMutex
	messages       []Message
	metadata       map[string]any
	lastAccessedAt time.Time
}

// NewContext creates an empty conversation context. An empty sessionID gets a
// generated UUID.
func NewContext(sessionID string) *Context {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Context{
		SessionID:      sessionID,
		CreatedAt:      now,
		metadata:       make(map[string]any),
		lastAccessedAt: now,
	}
}

// Append validates and appends a message. Messages are append-only; ordering
// is append order.
func (c *Context) Append(msg Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: invalid message role %q", ErrInvalidMessage, msg.Role)
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.lastAccessedAt = time.Now().UTC()
	return nil
}

// Messages returns a copy of the message history in chronological order.
// A positive limit returns only the most recent limit messages (still
// chronological); limit <= 0 returns everything.
func (c *Context) Messages(limit int) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Len returns the number of messages.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// SetMetadata sets a metadata key.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
	c.lastAccessedAt = time.Now().UTC()
}

// Metadata returns a copy of the metadata map.
func (c *Context) Metadata() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// LastAccessedAt returns the last access timestamp.
func (c *Context) LastAccessedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAccessedAt
}

// Touch refreshes the last access timestamp.
func (c *Context) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAccessedAt = time.Now().UTC()
}

// snapshot is the wire form for Serialize/Deserialize.
type snapshot struct {
	SessionID       string         `json:"session_id"`
	UserID          string         `json:"user_id,omitempty"`
	AgentInstanceID string         `json:"agent_instance_id,omitempty"`
	ActiveRoleID    string         `json:"active_role_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastAccessedAt  time.Time      `json:"last_accessed_at"`
	Messages        []Message      `json:"messages"`
	Metadata        map[string]any `json:"metadata"`
}

// Serialize encodes the full context as JSON. Deserialize of the result yields
// a context with identical message order, content, and metadata.
func (c *Context) Serialize() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := snapshot{
		SessionID:       c.SessionID,
		UserID:          c.UserID,
		AgentInstanceID: c.AgentInstanceID,
		ActiveRoleID:    c.ActiveRoleID,
		CreatedAt:       c.CreatedAt,
		LastAccessedAt:  c.lastAccessedAt,
		Messages:        c.messages,
		Metadata:        c.metadata,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("serializing context: %w", err)
	}
	return data, nil
}

// Deserialize decodes a context previously produced by Serialize.
func Deserialize(data []byte) (*Context, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("deserializing context: %w", err)
	}
	if snap.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session_id", ErrInvalidMessage)
	}
	c := &Context{
		SessionID:       snap.SessionID,
		UserID:          snap.UserID,
		AgentInstanceID: snap.AgentInstanceID,
		ActiveRoleID:    snap.ActiveRoleID,
		CreatedAt:       snap.CreatedAt,
		messages:        snap.Messages,
		metadata:        snap.Metadata,
		lastAccessedAt:  snap.LastAccessedAt,
	}
	if c.metadata == nil {
		c.metadata = make(map[string]any)
	}
	return c, nil
}
