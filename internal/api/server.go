package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearsay-labs/hearsay/internal/pipeline"
)

type Server struct {
	router   *chi.Mux
	port     int
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

func NewServer(port int, apiToken string, p *pipeline.Pipeline, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		pipeline: p,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/api/v1/hearsay/status", s.status)

	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/", s.createSession)
		r.Get("/{id}", s.getSession)
		r.Post("/{id}/transcript", s.updateTranscript)
		r.Post("/{id}/complete", s.completeSession)
		r.Get("/{id}/stream", s.streamTranscript)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "hearsay",
		"status":  "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// BearerAuthMiddleware guards the session routes. An empty configured token
// disables the check, matching how the service runs in development.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
