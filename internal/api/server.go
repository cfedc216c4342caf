package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/retailpulse/diagnose/internal/config"
)

// Server hosts the diagnosis HTTP API.
type Server struct {
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds the router and wraps it in an http.Server.
func NewServer(logger *slog.Logger, cfg config.ServerConfig, h *Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Tenant-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Route("/api/analysis", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Get("/stream/{id}", h.Stream)
		r.Get("/result/{id}", h.Result)
		r.Get("/sessions", h.ListSessions)
		r.Patch("/sessions/{id}", h.RenameSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
	})

	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:              cfg.Address,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			// No WriteTimeout: SSE streams stay open for the whole diagnosis.
			IdleTimeout: 120 * time.Second,
		},
	}
}

// Start listens until the server is shut down or fails.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("address", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
