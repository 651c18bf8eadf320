// ABOUTME: HTTP handlers for agency control, conversation inspection, and SSE streaming
// ABOUTME: Error responses carry a taxonomy code alongside the message

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/agency-runtime/internal/agency"
	"github.com/2389/agency-runtime/internal/conversation"
	"github.com/2389/agency-runtime/internal/store"
	"github.com/2389/agency-runtime/internal/workflow"
)

// startAgencyRequest is the POST /api/agencies body.
type startAgencyRequest struct {
	Strategy       string              `json:"strategy"`
	Goal           string              `json:"goal,omitempty"`
	Plan           []workflow.TaskSpec `json:"plan,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	UserID         string              `json:"user_id,omitempty"`
}

type startAgencyResponse struct {
	AgencyID string `json:"agency_id"`
}

// conversationResponse is the GET /api/conversations/{id} body.
type conversationResponse struct {
	SessionID       string                 `json:"session_id"`
	UserID          string                 `json:"user_id,omitempty"`
	AgentInstanceID string                 `json:"agent_instance_id,omitempty"`
	ActiveRoleID    string                 `json:"active_role_id,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	LastAccessedAt  time.Time              `json:"last_accessed_at"`
	Messages        []conversation.Message `json:"messages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartAgency(w http.ResponseWriter, r *http.Request) {
	var req startAgencyRequest
	if err := parseJSONBody(r.Body, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	agencyID, err := s.coordinator.Start(r.Context(), agency.Request{
		Strategy:       agency.Strategy(req.Strategy),
		Goal:           req.Goal,
		Plan:           req.Plan,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		s.sendMappedError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, startAgencyResponse{AgencyID: agencyID})
}

func (s *Server) handleListAgencies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ExecutionFilter{
		Status:         q.Get("status"),
		ConversationID: q.Get("conversation_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.sendError(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}

	snaps, err := s.coordinator.List(r.Context(), filter)
	if err != nil {
		s.sendMappedError(w, err)
		return
	}
	if snaps == nil {
		snaps = []agency.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"executions": snaps})
}

func (s *Server) handleGetAgency(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coordinator.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendMappedError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelAgency(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Cancel(r.PathValue("id")); err != nil {
		s.sendMappedError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleAgencyEvents streams agency progress over SSE. The first event is a
// snapshot of current state; subscribers attach from "now", there is no
// replay of earlier events.
func (s *Server) handleAgencyEvents(w http.ResponseWriter, r *http.Request) {
	agencyID := r.PathValue("id")

	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	snap, err := s.coordinator.Get(r.Context(), agencyID)
	if err != nil {
		s.sendMappedError(w, err)
		return
	}
	events, err := s.coordinator.Subscribe(r.Context(), agencyID)
	if err != nil {
		s.sendMappedError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, "snapshot", snap)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.writeSSEEvent(w, string(ev.Kind), ev)
			flusher.Flush()
		}
	}
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "validation", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	// Prefer the live context: it may be ahead of the persisted copy.
	if s.cache.Contains(sessionID) {
		conv, err := s.cache.GetOrCreate(r.Context(), sessionID, conversation.Defaults{})
		if err != nil {
			s.sendMappedError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, conversationResponse{
			SessionID:       conv.SessionID,
			UserID:          conv.UserID,
			AgentInstanceID: conv.AgentInstanceID,
			ActiveRoleID:    conv.ActiveRoleID,
			CreatedAt:       conv.CreatedAt,
			LastAccessedAt:  conv.LastAccessedAt(),
			Messages:        conv.Messages(limit),
		})
		return
	}

	if s.store == nil {
		s.sendError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	rec, msgs, err := s.store.LoadConversation(r.Context(), sessionID)
	if err != nil {
		s.sendMappedError(w, err)
		return
	}
	resp := conversationResponse{
		SessionID:       rec.SessionID,
		UserID:          rec.UserID,
		AgentInstanceID: rec.AgentInstanceID,
		ActiveRoleID:    rec.ActiveRoleID,
		CreatedAt:       rec.CreatedAt,
		LastAccessedAt:  rec.LastAccessedAt,
		Messages:        []conversation.Message{},
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, conversation.Message{
			ID:         m.ID,
			Role:       conversation.Role(m.Role),
			Content:    m.Content,
			Timestamp:  m.CreatedAt,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Metadata:   m.Metadata,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Remove(r.Context(), r.PathValue("id")); err != nil {
		s.sendMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseJSONBody decodes and validates a JSON request body.
func parseJSONBody(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendMappedError translates runtime errors into the API error taxonomy.
func (s *Server) sendMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrValidation):
		s.sendError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, agency.ErrNotInitialized):
		s.sendError(w, http.StatusServiceUnavailable, "not_initialized", "runtime is shutting down")
	default:
		var storageErr *store.StorageError
		if errors.As(err, &storageErr) {
			s.logger.Error("storage failure", "error", err)
			s.sendError(w, http.StatusInternalServerError, "storage", "storage failure")
			return
		}
		s.logger.Error("internal error", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{"error": message, "code": code})
}
