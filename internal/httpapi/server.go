// Package httpapi exposes the runtime over HTTP: an inbound-message
// endpoint for channel adapters and read-only thread views for
// operators.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tobiasgrim/supportflow/pkg/runtime"
	"github.com/tobiasgrim/supportflow/pkg/store"
)

// Server wires HTTP routes to the runtime.
type Server struct {
	runtime *runtime.Runtime
	logger  *slog.Logger
	metrics *Metrics
}

// New creates a Server. metrics may be nil to skip recording.
func New(rt *runtime.Runtime, logger *slog.Logger, metrics *Metrics) *Server {
	return &Server{runtime: rt, logger: logger, metrics: metrics}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/messages", s.handleMessage)
	r.Get("/threads", s.handleListThreads)
	r.Get("/threads/{conversationID}", s.handleGetThread)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg runtime.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg.ConversationID == "" || msg.Content == "" {
		s.writeError(w, http.StatusBadRequest, "conversation_id and content are required")
		return
	}

	result, err := s.runtime.ProcessMessage(r.Context(), msg)
	if err != nil {
		s.recordTurn(OutcomeError, "")
		s.logger.Error("turn failed", "conversation_id", msg.ConversationID, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	switch {
	case result.Duplicate:
		s.recordTurn(OutcomeDuplicate, result.Workflow)
	case result.Escalated:
		s.recordTurn(OutcomeEscalated, result.Workflow)
		if s.metrics != nil && result.Escalation != nil {
			s.metrics.RecordEscalation(result.Escalation.Reason)
		}
	default:
		s.recordTurn(OutcomeCompleted, result.Workflow)
	}

	s.writeJSON(w, http.StatusOK, result)
}

// threadResponse joins the projection and the durable message log.
type threadResponse struct {
	Thread   any `json:"thread"`
	Messages any `json:"messages"`
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	rec, msgs, err := s.runtime.Thread(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		s.logger.Error("thread lookup failed", "conversation_id", id, "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	if msgs == nil {
		msgs = []store.StoredMessage{}
	}
	s.writeJSON(w, http.StatusOK, threadResponse{Thread: rec, Messages: msgs})
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.runtime.Threads(r.Context())
	if err != nil {
		s.logger.Error("thread list failed", "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) recordTurn(outcome, workflow string) {
	if s.metrics != nil {
		s.metrics.RecordTurn(outcome, workflow)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
