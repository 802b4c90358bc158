// Package server exposes a read-only operator API over the statistics store,
// the Prometheus registry, and the rendered digests.
package server

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

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/logger"
)

// Store is the read side of the statistics repository
type Store interface {
	Ping(ctx context.Context) error
	MethodStats(ctx context.Context, domain string) ([]core.MethodStats, error)
	AllMethodStats(ctx context.Context) ([]core.DomainMethodStats, error)
	DomainPrefs(ctx context.Context, domain string) (*core.MethodPrefs, error)
}

// Options configures the server
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string // empty disables CORS
	DigestDir    string
	MetricsPath  string
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      Store
	metrics    http.Handler
	opts       Options
	log        *slog.Logger
}

// New creates a new HTTP server instance. metrics may be nil, in which case
// /metrics is not served.
func New(store Store, metrics http.Handler, opts Options) *Server {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		router:  chi.NewRouter(),
		store:   store,
		metrics: metrics,
		opts:    opts,
		log:     logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(securityHeaders)

	if len(s.opts.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300, // Maximum value not ignored by any major browsers
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, s.opts.MetricsPath, s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/prefs/{domain}", s.handlePrefs)
		r.Get("/stats/{domain}", s.handleStats)
		r.Get("/health/methods", s.handleMethodHealth)
		r.Get("/digest/latest", s.handleLatestDigest)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"read_timeout", s.opts.ReadTimeout,
		"write_timeout", s.opts.WriteTimeout,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
