// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package api wires together the HTTP router, middleware chain, and all
domain handlers into a runnable [http.Server].

Architecture:

  - This package is the topmost Presentation layer boundary.
  - It acts as the central composition root for the HTTP transport framework (chi router).
  - Anything not claimed by a gateway route is forwarded to the library through the cache worker.
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taibuivan/yomira-reader/internal/offline"
	"github.com/taibuivan/yomira-reader/internal/platform/config"
	"github.com/taibuivan/yomira-reader/internal/platform/constants"
	"github.com/taibuivan/yomira-reader/internal/platform/middleware"
	"github.com/taibuivan/yomira-reader/internal/reader/blobstore"
	"github.com/taibuivan/yomira-reader/internal/reader/session"
)

// # Server Definitions

// Server wraps the chi router and the [http.Server].
//
// It is constructed once in the serve command with all dependencies injected.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	log        *slog.Logger
}

// # Handler Registry

// Handlers groups every HTTP handler set the gateway exposes.
type Handlers struct {
	// Liveness is the /health handler, 200 whenever the process is alive.
	Liveness http.HandlerFunc

	// Readiness is the /ready handler, 200 when all deps are healthy.
	Readiness http.HandlerFunc

	// Blobs serves page bytes behind issued Blob URLs.
	Blobs http.Handler

	// Sessions handles reading sessions (navigate, page URLs, prefetch, invalidate).
	Sessions *session.Handler

	// Offline handles whole-book downloads.
	Offline *offline.Handler

	// Proxy forwards everything else to the library through the cache worker.
	Proxy http.Handler
}

// # Server Initialization

// NewServer constructs the chi router with the full middleware chain and
// registers all route groups.
func NewServer(ctx context.Context, cfg *config.Config, log *slog.Logger, h Handlers) *Server {
	r := chi.NewRouter()

	// # Middleware Chain
	// Global middleware applied in order of execution.
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Timeout(constants.GlobalRequestTimeout))
	r.Use(middleware.RateLimit(ctx))
	r.Use(middleware.PanicRecovery(log))
	r.Use(middleware.CORS(cfg, cfg.ExtraOrigins))
	r.Use(chimw.CleanPath)

	// # Infrastructure Endpoints
	r.Get("/health", h.Liveness)
	r.Get("/ready", h.Readiness)

	// # Blob URLs
	r.Method(http.MethodGet, blobstore.PathPrefix+"*", h.Blobs)
	r.Method(http.MethodHead, blobstore.PathPrefix+"*", h.Blobs)

	// # Application API
	r.Route("/api/v1", func(api chi.Router) {
		h.Sessions.RegisterRoutes(api)
		h.Offline.RegisterRoutes(api)
	})

	// # Library Passthrough
	if h.Proxy != nil {
		r.Handle("/*", h.Proxy)
	}

	return &Server{
		router: r,
		log:    log,
		httpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           r,
			ReadTimeout:       constants.DefaultReadTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			IdleTimeout:       constants.DefaultIdleTimeout,
			ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		},
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// # Server Lifecycle

// ListenAndServe starts the HTTP server.
//
// It blocks until the server is closed or an error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("server_starting", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
