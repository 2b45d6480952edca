package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/skill"
)

const maxEnvelopeBytes = 1 << 20

// Invoker runs one request envelope through the skill.
type Invoker interface {
	Invoke(ctx context.Context, env protocol.RequestEnvelope) (protocol.ResponseEnvelope, error)
}

// Check reports whether one dependency is ready to serve.
type Check func() bool

type Server struct {
	skill   Invoker
	metrics http.Handler
	checks  map[string]Check
	logger  *slog.Logger
}

// New builds the HTTP surface. metrics may be nil when no exporter is
// configured; /readyz fails while any check returns false.
func New(invoker Invoker, metrics http.Handler, checks map[string]Check, logger *slog.Logger) *Server {
	if checks == nil {
		checks = map[string]Check{}
	}
	return &Server{
		skill:   invoker,
		metrics: metrics,
		checks:  checks,
		logger:  logger.With(slog.String("component", "httpapi")),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Post("/v1/skill", s.handleSkill)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]bool, len(names))
	for _, name := range names {
		ok := s.checks[name]()
		results[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	label := "ready"
	if status != http.StatusOK {
		label = "not ready"
	}
	respondJSON(w, status, map[string]any{"status": label, "checks": results})
}

func (s *Server) handleSkill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEnvelopeBytes)
	var env protocol.RequestEnvelope
	if err := decodeJSON(r, &env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if env.Request.RequestID == "" {
		env.Request.RequestID = "http." + chimiddleware.GetReqID(r.Context())
	}

	out, err := s.skill.Invoke(r.Context(), env)
	if err != nil {
		if errors.Is(err, skill.ErrSkillIDMismatch) {
			s.logger.Warn("rejected envelope", slog.String("application_id", env.ApplicationID()))
			respondError(w, http.StatusForbidden, "forbidden", err.Error())
			return
		}
		s.logger.Error("skill invocation failed", slog.String("request_id", env.Request.RequestID), slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "skill_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, out)
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorReply{Error: code, Message: message})
}
