// Package httpapi serves the ops endpoints shared by the bot and the worker.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/model"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Artifacts is the read side of the store exposed over HTTP.
type Artifacts interface {
	GetArtifact(ctx context.Context, conversationID string, day model.Day) ([]byte, error)
	ListArtifactDays(ctx context.Context, conversationID string) ([]model.Day, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	role      string
	checks    map[string]Check
	metrics   http.Handler
	artifacts Artifacts
	origins   []string
}

// NewServer creates a Server. metrics may be nil.
func NewServer(role string, checks map[string]Check, metrics http.Handler, artifacts Artifacts) *Server {
	return &Server{role: role, checks: checks, metrics: metrics, artifacts: artifacts}
}

// AllowOrigins enables CORS for read-only requests from the given origins.
func (s *Server) AllowOrigins(origins ...string) *Server {
	s.origins = origins
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.artifacts != nil {
		r.Get("/v1/conversations/{id}/days", s.handleListDays)
		r.Get("/v1/conversations/{id}/reports/{day}", s.handleReport)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			zap.L().Warn("httpapi: health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respondJSON(w, status, map[string]any{
		"status": overall,
		"role":   s.role,
		"checks": results,
	})
}

func (s *Server) handleListDays(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	days, err := s.artifacts.ListArtifactDays(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "days": out})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	day, err := model.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_day", "day must be YYYY-MM-DD")
		return
	}
	blob, err := s.artifacts.GetArtifact(r.Context(), id, day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if blob == nil {
		respondError(w, http.StatusNotFound, "not_found", "no report for that day")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.xlsx"`, id, day))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{"error": code, "message": msg})
}

// ListenAndServe serves handler on port until ctx is cancelled.
func ListenAndServe(ctx context.Context, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("httpapi: shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("httpapi: starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "httpapi: listen")
	}
	return nil
}
