// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/taibuivan/yomira-reader/internal/library"
	"github.com/taibuivan/yomira-reader/internal/offline"
	"github.com/taibuivan/yomira-reader/internal/platform/config"
	pgstore "github.com/taibuivan/yomira-reader/internal/platform/postgres"
	redisstore "github.com/taibuivan/yomira-reader/internal/platform/redis"
	"github.com/taibuivan/yomira-reader/internal/swcache"
)

// startupTimeout catches misconfiguration quickly rather than hanging.
const startupTimeout = 30 * time.Second

// stack holds the infrastructure shared by every command.
type stack struct {
	cfg *config.Config
	log *slog.Logger

	pool    *pgxpool.Pool
	redis   *goredis.Client
	storage swcache.Storage
	worker  *swcache.Worker

	closers []func()
}

// openStack connects every backing service. Close releases them in reverse order.
func openStack(ctx context.Context) (*stack, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	s := &stack{cfg: cfg, log: log}

	// ── PostgreSQL (library catalogue) ───────────────────────────────────
	s.pool, err = pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s.onClose(func() {
		log.Info("closing_postgres_pool")
		s.pool.Close()
	})

	// ── Redis (offline status records) ───────────────────────────────────
	s.redis, err = redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	s.onClose(func() {
		log.Info("closing_redis_client")
		if cerr := s.redis.Close(); cerr != nil {
			log.Error("redis_close_error", slog.Any("error", cerr))
		}
	})

	// ── SQLite (persistent HTTP cache) ───────────────────────────────────
	s.storage, err = swcache.OpenSQLiteStorage(cfg.CacheDBPath, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open cache storage: %w", err)
	}
	s.onClose(func() {
		log.Info("closing_cache_storage")
		_ = s.storage.Close()
	})

	manifest, err := swcache.LoadManifest(cfg.ShellManifestPath)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.worker, err = swcache.NewWorker(s.storage, manifest, cfg.UpstreamURL, nil, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// catalog is the PostgreSQL library catalogue.
func (s *stack) catalog() library.Catalog {
	return library.NewPostgresCatalog(s.pool)
}

// downloads builds the offline manager. Pages are fetched straight from the
// library and written to the image cache of the worker.
func (s *stack) downloads() *offline.Manager {
	direct := library.NewClient(s.cfg.UpstreamURL, nil, s.log)

	return offline.NewManager(
		offline.NewRedisStore(s.redis, s.log),
		s.worker,
		direct,
		offline.Config{
			Attempts:       s.cfg.Offline.Attempts,
			BaseDelay:      s.cfg.Offline.BaseDelay,
			MaxDelay:       s.cfg.Offline.MaxDelay,
			StaleThreshold: s.cfg.Offline.StaleThreshold,
		},
		offline.WithLogger(s.log),
	)
}

func (s *stack) onClose(closer func()) {
	s.closers = append(s.closers, closer)
}

// Close releases every opened service, last opened first.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
