package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/latch"
	"github.com/aretw0/latch/internal/logging"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes a session Manager over HTTP.
type Server struct {
	Manager *session.Manager
	Streams *StreamManager

	metrics http.Handler
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHandler creates the HTTP handler for the control API.
func NewHandler(manager *session.Manager, opts ...Option) http.Handler {
	server := &Server{
		Manager: manager,
		Streams: NewStreamManager(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)
	if server.metrics != nil {
		r.Method(http.MethodGet, "/metrics", server.metrics)
	}

	r.Route("/attempts", func(r chi.Router) {
		r.Get("/", server.ListAttempts)
		r.Post("/", server.CreateAttempt)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", server.GetAttempt)
			r.Delete("/", server.DeleteAttempt)
			r.Post("/two-factor", server.SubmitTwoFactor)
			r.Post("/checkpoint", server.SubmitCheckpoint)
			r.Post("/poll", server.Poll)
			r.Get("/events", server.SubscribeEvents)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateAttemptRequest is the body of POST /attempts.
type CreateAttemptRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TwoFactorRequest is the body of POST /attempts/{id}/two-factor.
type TwoFactorRequest struct {
	Method string `json:"method,omitempty"`
	Code   string `json:"code"`
}

// CheckpointRequest is the body of POST /attempts/{id}/checkpoint.
type CheckpointRequest struct {
	Step    string            `json:"step"`
	Payload map[string]string `json:"payload,omitempty"`
}

// ErrorBody describes a failed operation.
type ErrorBody struct {
	Kind     string `json:"kind,omitempty"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// AttemptResponse is returned by every attempt operation.
type AttemptResponse struct {
	ID    string            `json:"id"`
	State *domain.StateView `json:"state,omitempty"`
	Error *ErrorBody        `json:"error,omitempty"`
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "latch-http",
		"version": strings.TrimSpace(latch.Version),
	})
}

// ListAttempts handles GET /attempts.
func (s *Server) ListAttempts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"attempts": s.Manager.List()})
}

// CreateAttempt handles POST /attempts.
func (s *Server) CreateAttempt(w http.ResponseWriter, r *http.Request) {
	var body CreateAttemptRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Username == "" || body.Password == "" {
		s.fail(w, "", http.StatusBadRequest, errors.New("username and password are required"))
		return
	}

	id, state, err := s.Manager.Start(r.Context(), body.Username, body.Password)
	s.respond(w, id, state, err, http.StatusCreated)
}

// GetAttempt handles GET /attempts/{id}.
func (s *Server) GetAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.Manager.Get(id)
	if err != nil {
		s.respond(w, id, nil, err, http.StatusOK)
		return
	}
	s.respond(w, id, a.State(), nil, http.StatusOK)
}

// DeleteAttempt handles DELETE /attempts/{id}.
func (s *Server) DeleteAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Manager.Delete(r.Context(), id); err != nil {
		s.respond(w, id, nil, err, http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitTwoFactor handles POST /attempts/{id}/two-factor.
func (s *Server) SubmitTwoFactor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body TwoFactorRequest
	if !s.decode(w, r, &body) {
		return
	}
	var method domain.TwoFactorMethod
	if body.Method != "" {
		m, ok := domain.ParseTwoFactorMethod(strings.ToLower(body.Method))
		if !ok {
			s.fail(w, id, http.StatusBadRequest, fmt.Errorf("unknown two-factor method %q", body.Method))
			return
		}
		method = m
	}
	state, err := s.Manager.SubmitTwoFactor(r.Context(), id, method, body.Code)
	s.respond(w, id, state, err, http.StatusOK)
}

// SubmitCheckpoint handles POST /attempts/{id}/checkpoint.
func (s *Server) SubmitCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body CheckpointRequest
	if !s.decode(w, r, &body) {
		return
	}
	state, err := s.Manager.SubmitCheckpoint(r.Context(), id, domain.StepKind(body.Step), body.Payload)
	s.respond(w, id, state, err, http.StatusOK)
}

// Poll handles POST /attempts/{id}/poll.
func (s *Server) Poll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.Manager.Poll(r.Context(), id)
	s.respond(w, id, state, err, http.StatusOK)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "error", err)
		s.fail(w, chi.URLParam(r, "id"), http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

// respond writes the outcome of an attempt operation. Classified protocol
// failures are results, not transport errors, and keep the success status.
func (s *Server) respond(w http.ResponseWriter, id string, state domain.ChallengeState, err error, okStatus int) {
	resp := AttemptResponse{ID: id}
	if state != nil {
		view := state.Describe()
		resp.State = &view
		s.Streams.Broadcast(id, view)
	}

	status := okStatus
	if err != nil {
		status = statusFor(err)
		resp.Error = errorBody(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("Attempt operation failed", "attempt", id, "error", err)
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) fail(w http.ResponseWriter, id string, status int, err error) {
	writeJSON(w, status, AttemptResponse{ID: id, Error: &ErrorBody{Message: err.Error()}})
}

func statusFor(err error) int {
	var pe *domain.ProtocolError
	var ne *domain.NetworkError
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStep), errors.Is(err, domain.ErrAttemptTerminated):
		return http.StatusConflict
	case errors.As(err, &pe):
		return http.StatusOK
	case errors.As(err, &ne):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorBody(err error) *ErrorBody {
	body := &ErrorBody{Message: err.Error()}
	if kind, ok := domain.KindOf(err); ok {
		body.Kind = string(kind)
	}
	var pe *domain.ProtocolError
	if errors.As(err, &pe) {
		body.Category = pe.Category
		body.Message = pe.Message
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Response encode failed", "error", err)
	}
}
