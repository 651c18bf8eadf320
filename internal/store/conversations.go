// ABOUTME: Conversation persistence for the SQLite store
// ABOUTME: Transactional header+message upsert, load, delete, and listing

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertConversation writes the conversation header and atomically replaces its
// message set in a single transaction. The delete-all-then-insert replacement
// guarantees no duplicate or stale rows survive a retried or partially-failed
// prior write, which makes the operation safe for the cache to call
// redundantly during eviction races.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *Conversation, messages []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("upsert conversation", err)
	}
	defer tx.Rollback()

	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return NewStorageError("upsert conversation", fmt.Errorf("encoding metadata: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (session_id, user_id, agent_instance_id, active_role_id, metadata, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			agent_instance_id = excluded.agent_instance_id,
			active_role_id = excluded.active_role_id,
			metadata = excluded.metadata,
			last_accessed_at = excluded.last_accessed_at
	`,
		conv.SessionID,
		conv.UserID,
		conv.AgentInstanceID,
		conv.ActiveRoleID,
		string(metadata),
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.LastAccessedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return NewStorageError("upsert conversation", fmt.Errorf("writing header: %w", err))
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM conversation_messages WHERE session_id = ?", conv.SessionID); err != nil {
		return NewStorageError("upsert conversation", fmt.Errorf("clearing messages: %w", err))
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO conversation_messages (id, session_id, position, role, content, tool_calls, tool_call_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return NewStorageError("upsert conversation", err)
	}
	defer insert.Close()

	for i, msg := range messages {
		toolCalls, msgMeta, err := encodeMessageJSON(msg)
		if err != nil {
			return NewStorageError("upsert conversation", err)
		}
		_, err = insert.ExecContext(ctx,
			msg.ID,
			conv.SessionID,
			i,
			msg.Role,
			msg.Content,
			toolCalls,
			nullString(msg.ToolCallID),
			msgMeta,
			msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return NewStorageError("upsert conversation", fmt.Errorf("inserting message %d: %w", i, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("upsert conversation", err)
	}

	s.logger.Debug("upserted conversation",
		"session_id", conv.SessionID,
		"messages", len(messages))
	return nil
}

// LoadConversation retrieves a conversation header and its messages in append
// order. Returns ErrNotFound if the session does not exist.
func (s *SQLiteStore) LoadConversation(ctx context.Context, sessionID string) (*Conversation, []Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, agent_instance_id, active_role_id, metadata, created_at, last_accessed_at
		FROM conversations
		WHERE session_id = ?
	`, sessionID)

	conv := &Conversation{}
	var metadata, createdAt, lastAccessedAt string
	err := row.Scan(&conv.SessionID, &conv.UserID, &conv.AgentInstanceID, &conv.ActiveRoleID, &metadata, &createdAt, &lastAccessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, NewStorageError("load conversation", err)
	}

	if err := json.Unmarshal([]byte(metadata), &conv.Metadata); err != nil {
		return nil, nil, NewStorageError("load conversation", fmt.Errorf("decoding metadata: %w", err))
	}
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, nil, NewStorageError("load conversation", fmt.Errorf("parsing created_at: %w", err))
	}
	if conv.LastAccessedAt, err = time.Parse(time.RFC3339Nano, lastAccessedAt); err != nil {
		return nil, nil, NewStorageError("load conversation", fmt.Errorf("parsing last_accessed_at: %w", err))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position, role, content, tool_calls, tool_call_id, metadata, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, nil, NewStorageError("load conversation", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg := Message{SessionID: sessionID}
		var toolCalls, toolCallID, msgMeta sql.NullString
		var msgCreatedAt string
		if err := rows.Scan(&msg.ID, &msg.Position, &msg.Role, &msg.Content, &toolCalls, &toolCallID, &msgMeta, &msgCreatedAt); err != nil {
			return nil, nil, NewStorageError("load conversation", err)
		}
		if err := decodeMessageJSON(&msg, toolCalls, msgMeta); err != nil {
			return nil, nil, NewStorageError("load conversation", err)
		}
		msg.ToolCallID = toolCallID.String
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, msgCreatedAt); err != nil {
			return nil, nil, NewStorageError("load conversation", fmt.Errorf("parsing message created_at: %w", err))
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, NewStorageError("load conversation", err)
	}

	return conv, messages, nil
}

// DeleteConversation removes a conversation and, via cascade, its messages.
// Deleting a nonexistent session is not an error (idempotent).
func (s *SQLiteStore) DeleteConversation(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE session_id = ?", sessionID)
	if err != nil {
		return NewStorageError("delete conversation", err)
	}
	s.logger.Debug("deleted conversation", "session_id", sessionID)
	return nil
}

// ListActiveConversationIDs returns all persisted session IDs ordered by most
// recent access.
func (s *SQLiteStore) ListActiveConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT session_id FROM conversations ORDER BY last_accessed_at DESC")
	if err != nil {
		return nil, NewStorageError("list conversations", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, NewStorageError("list conversations", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("list conversations", err)
	}
	return ids, nil
}

// encodeMessageJSON marshals the optional JSON columns of a message.
func encodeMessageJSON(msg Message) (toolCalls, metadata sql.NullString, err error) {
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return toolCalls, metadata, fmt.Errorf("encoding tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return toolCalls, metadata, fmt.Errorf("encoding message metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}
	return toolCalls, metadata, nil
}

// decodeMessageJSON unmarshals the optional JSON columns of a message.
func decodeMessageJSON(msg *Message, toolCalls, metadata sql.NullString) error {
	if toolCalls.Valid {
		if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
			return fmt.Errorf("decoding tool calls: %w", err)
		}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return fmt.Errorf("decoding message metadata: %w", err)
		}
	}
	return nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
