// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command reader is the entry point of the Yomira reader gateway.
//
// # Commands
//
//	reader serve                          run the HTTP gateway
//	reader offline download <book> [-p N] download a book into the persistent cache
//	reader offline remove <book>          delete an offline copy
//	reader offline status [book]          show offline records
//	reader cache cleanup                  collapse duplicate cache entries
//
// Configuration comes from the environment (see internal/platform/config).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taibuivan/yomira-reader/internal/platform/config"
	"github.com/taibuivan/yomira-reader/internal/platform/constants"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	log := newLogger(slog.LevelInfo)
	slog.SetDefault(log)

	rootCmd := &cobra.Command{
		Use:           "reader",
		Short:         "Yomira reader gateway: page cache, prefetch and offline downloads",
		Version:       constants.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newOfflineCommand())
	rootCmd.AddCommand(newCacheCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command_failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

// newLogger builds the JSON logger every command writes to.
func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("app", constants.AppName))
}

// loadConfig loads the environment and switches to debug logging when asked.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log := slog.Default()
	if cfg.Debug {
		log = newLogger(slog.LevelDebug)
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("upstream", cfg.UpstreamURL),
	)
	return cfg, log, nil
}
