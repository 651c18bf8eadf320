// ABOUTME: Bounded LRU session cache backed by the conversation store
// ABOUTME: Write-back-on-evict with per-session write serialization

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/2389/agency-runtime/internal/store"
)

// ErrInvalidMessage is returned for messages that fail validation.
var ErrInvalidMessage = errors.New("invalid message")

// Defaults seeds newly created contexts in GetOrCreate.
type Defaults struct {
	UserID          string
	AgentInstanceID string
	ActiveRoleID    string
}

// SessionCache is a bounded least-recently-used cache of live conversation
// contexts. It enforces the single-live-instance-per-session invariant: all
// components obtain contexts through the cache, never construct their own for
// a session the cache already holds.
//
// Eviction is write-back: before the LRU victim leaves memory it is flushed to
// the store (when persistence is enabled). A failed flush is logged and the
// entry is evicted anyway, trading durability for the memory bound.
type SessionCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Context]
	evicted []*Context // victims collected by the eviction hook during Add

	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex

	store   store.Store // nil disables persistence entirely
	persist bool
	logger  *slog.Logger
}

// NewSessionCache creates a cache holding at most maxSessions live contexts.
// Pass a nil store (or persist=false) for memory-only operation.
func NewSessionCache(maxSessions int, st store.Store, persist bool, logger *slog.Logger) (*SessionCache, error) {
	if maxSessions <= 0 {
		return nil, fmt.Errorf("max sessions must be positive, got %d", maxSessions)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &SessionCache{
		keyLocks: make(map[string]*sync.Mutex),
		store:    st,
		persist:  persist && st != nil,
		logger:   logger.With("component", "session_cache"),
	}

	entries, err := lru.NewWithEvict(maxSessions, func(_ string, victim *Context) {
		// Runs inside Add/Remove while c.mu is held; just collect the victim,
		// the flush happens after the lock is released.
		c.evicted = append(c.evicted, victim)
	})
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	c.entries = entries
	return c, nil
}

// GetOrCreate returns the live context for sessionID, loading it from the
// store on a cache miss and constructing a fresh one if the store has no
// record either. An empty sessionID always creates a new context with a
// generated ID. Access refreshes the entry's recency.
func (c *SessionCache) GetOrCreate(ctx context.Context, sessionID string, defaults Defaults) (*Context, error) {
	if sessionID == "" {
		conv := NewContext("")
		applyDefaults(conv, defaults)
		c.flushVictims(ctx, c.insert(conv))
		return conv, nil
	}

	unlock := c.lockKey(sessionID)
	conv, victims, err := c.getOrCreateLocked(ctx, sessionID, defaults)
	unlock()
	if err != nil {
		return nil, err
	}
	// Write-back happens outside the key lock so evictions can never deadlock
	// against a concurrent operation on the victim's session.
	c.flushVictims(ctx, victims)
	return conv, nil
}

// getOrCreateLocked resolves the context while the caller holds the key lock.
func (c *SessionCache) getOrCreateLocked(ctx context.Context, sessionID string, defaults Defaults) (*Context, []*Context, error) {
	c.mu.Lock()
	if conv, ok := c.entries.Get(sessionID); ok {
		c.mu.Unlock()
		conv.Touch()
		return conv, nil, nil
	}
	c.mu.Unlock()

	if c.store != nil {
		conv, err := c.loadFromStore(ctx, sessionID)
		if err == nil {
			return conv, c.insert(conv), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
	}

	conv := NewContext(sessionID)
	applyDefaults(conv, defaults)
	return conv, c.insert(conv), nil
}

// Put inserts or refreshes a context, evicting (with write-back) the
// least-recently-accessed entry when the cache is over capacity.
func (c *SessionCache) Put(ctx context.Context, conv *Context) {
	conv.Touch()
	c.flushVictims(ctx, c.insert(conv))
}

// Remove deletes the session from both cache and store.
func (c *SessionCache) Remove(ctx context.Context, sessionID string) error {
	unlock := c.lockKey(sessionID)
	defer unlock()

	c.mu.Lock()
	c.entries.Remove(sessionID)
	c.evicted = nil // explicit removal is not an eviction; no write-back
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.DeleteConversation(ctx, sessionID)
}

// Flush persists a context immediately without evicting it. No-op when
// persistence is disabled.
func (c *SessionCache) Flush(ctx context.Context, conv *Context) error {
	if !c.persist {
		return nil
	}
	unlock := c.lockKey(conv.SessionID)
	defer unlock()
	rec, msgs := toRecord(conv)
	return c.store.UpsertConversation(ctx, rec, msgs)
}

// FlushAll persists every live context. Used at shutdown.
func (c *SessionCache) FlushAll(ctx context.Context) error {
	if !c.persist {
		return nil
	}
	c.mu.Lock()
	keys := c.entries.Keys()
	contexts := make([]*Context, 0, len(keys))
	for _, key := range keys {
		if conv, ok := c.entries.Peek(key); ok {
			contexts = append(contexts, conv)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, conv := range contexts {
		if err := c.Flush(ctx, conv); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of live contexts.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Contains reports whether the session is live in memory, without refreshing
// its recency.
func (c *SessionCache) Contains(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(sessionID)
}

// insert adds the context to the LRU and returns any evicted victims for the
// caller to flush once it holds no key locks.
func (c *SessionCache) insert(conv *Context) []*Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = nil
	c.entries.Add(conv.SessionID, conv)
	victims := c.evicted
	c.evicted = nil
	return victims
}

// flushVictims writes evicted contexts back to the store.
func (c *SessionCache) flushVictims(ctx context.Context, victims []*Context) {
	for _, victim := range victims {
		c.writeBack(ctx, victim)
	}
}

// writeBack flushes an evicted context to the store. Failure is logged and
// the eviction stands: bounded memory wins over durability here.
func (c *SessionCache) writeBack(ctx context.Context, victim *Context) {
	if !c.persist {
		return
	}
	unlock := c.lockKey(victim.SessionID)
	defer unlock()

	rec, msgs := toRecord(victim)
	if err := c.store.UpsertConversation(ctx, rec, msgs); err != nil {
		c.logger.Warn("write-back on evict failed, evicting anyway",
			"session_id", victim.SessionID,
			"error", err)
		return
	}
	c.logger.Debug("evicted session flushed to store", "session_id", victim.SessionID)
}

// lockKey serializes all mutations for one session ID. Operations on
// different sessions proceed in parallel.
func (c *SessionCache) lockKey(sessionID string) func() {
	c.keyMu.Lock()
	lock, ok := c.keyLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		c.keyLocks[sessionID] = lock
	}
	c.keyMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// loadFromStore reads a persisted conversation into a live context.
func (c *SessionCache) loadFromStore(ctx context.Context, sessionID string) (*Context, error) {
	rec, msgs, err := c.store.LoadConversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec, msgs), nil
}

func applyDefaults(conv *Context, d Defaults) {
	conv.UserID = d.UserID
	conv.AgentInstanceID = d.AgentInstanceID
	conv.ActiveRoleID = d.ActiveRoleID
}

// toRecord converts a live context to its persisted shape.
func toRecord(conv *Context) (*store.Conversation, []store.Message) {
	rec := &store.Conversation{
		SessionID:       conv.SessionID,
		UserID:          conv.UserID,
		AgentInstanceID: conv.AgentInstanceID,
		ActiveRoleID:    conv.ActiveRoleID,
		Metadata:        conv.Metadata(),
		CreatedAt:       conv.CreatedAt,
		LastAccessedAt:  conv.LastAccessedAt(),
	}
	live := conv.Messages(0)
	msgs := make([]store.Message, len(live))
	for i, m := range live {
		msgs[i] = store.Message{
			ID:         m.ID,
			SessionID:  conv.SessionID,
			Position:   i,
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Metadata:   m.Metadata,
			CreatedAt:  m.Timestamp,
		}
	}
	return rec, msgs
}

// fromRecord converts persisted rows back to a live context.
func fromRecord(rec *store.Conversation, msgs []store.Message) *Context {
	conv := &Context{
		SessionID:       rec.SessionID,
		UserID:          rec.UserID,
		AgentInstanceID: rec.AgentInstanceID,
		ActiveRoleID:    rec.ActiveRoleID,
		CreatedAt:       rec.CreatedAt,
		metadata:        rec.Metadata,
		lastAccessedAt:  rec.LastAccessedAt,
	}
	if conv.metadata == nil {
		conv.metadata = make(map[string]any)
	}
	conv.messages = make([]Message, len(msgs))
	for i, m := range msgs {
		conv.messages[i] = Message{
			ID:         m.ID,
			Role:       Role(m.Role),
			Content:    m.Content,
			Timestamp:  m.CreatedAt,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Metadata:   m.Metadata,
		}
	}
	return conv
}
