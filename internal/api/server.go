package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// Server is the HTTP server.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg domain.ServerConfig, handler *Handler, logger *slog.Logger, tracing bool) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Recover(logger))
	if tracing {
		r.Use(Tracing)
	}
	r.Use(Logging(logger))
	r.Use(CORS)
	r.Use(middleware.Compress(5))

	r.Get("/health", handler.HandleHealth)
	r.Get("/ready", handler.HandleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/mpesa/callback", handler.HandleCallback)
		r.Post("/mpesa/validation", handler.HandleValidation)

		r.Post("/businesses", handler.HandleRegisterBusiness)

		r.Get("/transactions", handler.HandleListTransactions)
		r.Get("/transactions/{id}", handler.HandleGetTransaction)

		r.Get("/assessments/{id}", handler.HandleGetAssessment)

		r.Post("/fraud/batch", handler.HandleBatch)
		r.Get("/fraud/flagged", handler.HandleListFlagged)
		r.Post("/fraud/review/{id}", handler.HandleReview)
		r.Get("/fraud/stats", handler.HandleStats)

		r.Get("/patterns", handler.HandleListPatterns)
		r.Post("/patterns", handler.HandleSavePattern)
		r.Post("/patterns/reload", handler.HandleReloadPatterns)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		},
		logger: logger,
	}
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.server.Handler
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
