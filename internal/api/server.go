// Package api exposes the engine's state over a read-only HTTP surface.
// Human-readable JSON, no side effects: every mutation goes through the
// CLI or the embedding process, never this server.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hearthd/hearth/internal/engine"
)

// Server serves the read-only memory API.
type Server struct {
	eng *engine.Engine
	log *zap.Logger
}

// NewServer creates a server over the given engine.
func NewServer(eng *engine.Engine, log *zap.Logger) *Server {
	return &Server{eng: eng, log: log}
}

// Router builds the chi router with all read-only routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/view", s.handleView)
		r.Get("/understanding", s.handleUnderstanding)
		r.Get("/facts", s.handleFacts)
		r.Get("/preferences", s.handlePreferences)
		r.Get("/routines", s.handleRoutines)
		r.Get("/patterns", s.handlePatterns)
		r.Get("/conversations", s.handleConversations)
		r.Get("/people", s.handlePeople)
	})
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Snapshot())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.View())
}

func (s *Server) handleUnderstanding(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.eng.Understanding()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no consolidation has run yet"})
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	includeFaded, _ := strconv.ParseBool(r.URL.Query().Get("include_faded"))
	s.writeJSON(w, http.StatusOK, s.eng.Facts(includeFaded))
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Preferences())
}

func (s *Server) handleRoutines(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Routines())
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Patterns())
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if topic := r.URL.Query().Get("topic"); topic != "" {
		s.writeJSON(w, http.StatusOK, s.eng.ConversationsAbout(topic))
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	s.writeJSON(w, http.StatusOK, s.eng.RecentConversations(limit))
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.People())
}
