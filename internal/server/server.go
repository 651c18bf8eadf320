// ABOUTME: HTTP server assembly for the agencyd API
// ABOUTME: Routes, middleware, and lifecycle; handlers live in handlers.go

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/agency-runtime/internal/agency"
	"github.com/2389/agency-runtime/internal/auth"
	"github.com/2389/agency-runtime/internal/conversation"
	"github.com/2389/agency-runtime/internal/store"
)

// Server exposes the agency runtime over HTTP: JSON for control operations,
// SSE for progress streams.
type Server struct {
	coordinator *agency.Coordinator
	cache       *conversation.SessionCache
	store       store.Store // nil in memory-only mode
	verifier    auth.TokenVerifier
	logger      *slog.Logger
	httpServer  *http.Server
}

// New creates a server. verifier may be nil to disable authentication and st
// may be nil when running without persistence.
func New(addr string, coord *agency.Coordinator, cache *conversation.SessionCache, st store.Store, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coordinator: coord,
		cache:       cache,
		store:       st,
		verifier:    verifier,
		logger:      logger.With("component", "server"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// routes builds the mux. Health stays outside the auth middleware so probes
// work without a token.
func (s *Server) routes() http.Handler {
	authed := auth.Middleware(s.verifier)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/agencies", s.handleStartAgency)
	api.HandleFunc("GET /api/agencies", s.handleListAgencies)
	api.HandleFunc("GET /api/agencies/{id}", s.handleGetAgency)
	api.HandleFunc("GET /api/agencies/{id}/events", s.handleAgencyEvents)
	api.HandleFunc("POST /api/agencies/{id}/cancel", s.handleCancelAgency)
	api.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	api.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("/api/", authed(api))
	return mux
}

// Handler returns the full routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP until Shutdown is called. Blocks.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
