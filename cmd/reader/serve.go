// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/taibuivan/yomira-reader/internal/api"
	"github.com/taibuivan/yomira-reader/internal/library"
	"github.com/taibuivan/yomira-reader/internal/offline"
	"github.com/taibuivan/yomira-reader/internal/platform/constants"
	pgstore "github.com/taibuivan/yomira-reader/internal/platform/postgres"
	redisstore "github.com/taibuivan/yomira-reader/internal/platform/redis"
	"github.com/taibuivan/yomira-reader/internal/reader/blobstore"
	"github.com/taibuivan/yomira-reader/internal/reader/pagecache"
	"github.com/taibuivan/yomira-reader/internal/reader/prefetch"
	"github.com/taibuivan/yomira-reader/internal/reader/session"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reader gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

/*
serve runs the gateway until ctx is cancelled.

# Startup Sequence

 1. Load configuration and connect PostgreSQL, Redis and the SQLite cache.
 2. Install and activate the cache worker.
 3. Wire reading sessions and offline downloads.
 4. Resume interrupted downloads.
 5. Start the HTTP server with graceful shutdown.
*/
func serve(ctx context.Context) error {
	s, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	log := s.log

	// ── Cache worker ──────────────────────────────────────────────────────
	if err := s.worker.Start(ctx); err != nil {
		return err
	}

	// ── Reading sessions ──────────────────────────────────────────────────
	// Sessions read through the worker, so every page they load lands in the image cache.
	readerClient := library.NewClient(s.cfg.UpstreamURL, s.worker, log)
	catalog := s.catalog()
	blobs := blobstore.New(s.cfg.PublicURL)

	sessions := session.NewManager(session.Dependencies{
		Catalog:   catalog,
		Loader:    readerClient,
		Blobs:     blobs,
		Sender:    readerClient,
		Navigator: navigationLogger(log),
	}, sessionConfig(s), log)

	sessionsCtx, stopSessions := context.WithCancel(context.WithoutCancel(ctx))
	sessionsDone := make(chan struct{})
	go func() {
		defer close(sessionsDone)
		sessions.Run(sessionsCtx)
	}()

	// ── Offline downloads ─────────────────────────────────────────────────
	downloads := s.downloads()
	if _, err := downloads.Resume(ctx); err != nil {
		log.Warn("offline_resume_skipped", slog.Any("error", err))
	}

	// ── Health ────────────────────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func(ctx context.Context) error {
			return pgstore.Ping(ctx, s.pool)
		},
		CheckStatusStore: func(ctx context.Context) error {
			return redisstore.Ping(ctx, s.redis)
		},
		CheckCacheStorage: s.storage.Ping,
	}, log)

	// ── HTTP Server ───────────────────────────────────────────────────────
	server := api.NewServer(ctx, s.cfg, log, api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Blobs:     blobs,
		Sessions:  session.NewHandler(sessions),
		Offline:   offline.NewHandler(downloads, catalog),
		Proxy:     s.worker.Proxy(),
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case <-ctx.Done():
		log.Info("shutdown_signal_received")
	case err := <-serverErr:
		log.Error("server_startup_error", slog.Any("error", err))
	}

	// ── Graceful Shutdown ─────────────────────────────────────────────────
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting_down_server", slog.Duration("timeout", shutdownTimeout))

	shutdownErr := server.Shutdown(shutdownTimeout)

	// Flushes pending progress and revokes every Blob URL.
	stopSessions()
	<-sessionsDone

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := downloads.Close(closeCtx); err != nil {
		log.Error("offline_shutdown_error", slog.Any("error", err))
	}

	if shutdownErr != nil {
		return shutdownErr
	}
	log.Info("server_stopped_cleanly")
	return nil
}

// sessionConfig maps the reader environment onto session defaults.
func sessionConfig(s *stack) session.Config {
	window := s.cfg.Window
	return session.Config{
		Window:        pagecache.Window{Behind: window.EvictBehind, Ahead: window.EvictAhead},
		Prefetch:      prefetch.Options{Ahead: window.PrefetchAhead, Behind: window.PrefetchBehind},
		ProgressDelay: window.ProgressDebounce,
		ReadyTimeout:  window.ReadyTimeout,
		IdleTTL:       window.SessionIdleTTL,
	}
}

// navigationLogger is the gateway's navigation callback: it records every view served.
func navigationLogger(log *slog.Logger) session.Navigator {
	return func(ctx context.Context, view session.View) {
		log.DebugContext(ctx, "session_navigated",
			slog.String("session_id", view.SessionID),
			slog.String("book_id", view.BookID),
			slog.Int("page", view.Page),
			slog.Bool("spread", view.Spread),
		)
	}
}
