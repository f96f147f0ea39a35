// Package api exposes a read-only HTTP surface for auditing session
// outcomes and call attempts.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/elie-eliseai/callzilla/internal/results"
	"github.com/elie-eliseai/callzilla/internal/store"
)

type Server struct {
	store  store.Store
	writer *results.Writer
	router chi.Router
	port   int
}

func NewServer(s store.Store, w *results.Writer, port int) *Server {
	srv := &Server{
		store:  s,
		writer: w,
		port:   port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/sessions", srv.handleListSessions)
		r.Get("/sessions/{sessionID}", srv.handleGetSession)
		r.Get("/attempts", srv.handleListAttempts)
	})

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	bufferSize := 0
	if s.writer != nil {
		bufferSize = s.writer.BufferLen()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "callzilla",
		"buffer_size": bufferSize,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if sessions == nil {
		sessions = []store.CallSession{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("get session failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	attempts, err := s.store.ListAttemptsBySession(r.Context(), id)
	if err != nil {
		slog.Error("list attempts failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if attempts == nil {
		attempts = []store.CallAttempt{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":  sess,
		"attempts": attempts,
	})
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone is required"})
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	attempts, err := s.store.ListAttemptsByPhone(r.Context(), phone, limit)
	if err != nil {
		slog.Error("list attempts failed", "phone", phone, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if attempts == nil {
		attempts = []store.CallAttempt{}
	}

	writeJSON(w, http.StatusOK, attempts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
