// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package migration provides a thin wrapper around golang-migrate for
// the gateway's own SQLite schema.
//
// # Architecture
//
// This package belongs to the Infrastructure layer. It enforces schema
// idempotency during startup, ensuring the persistent cache database is
// always in the correct state before the cache worker installs. Migrations
// are embedded in the owning package and handed over as an [fs.FS].
package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	// sqlite driver registers the "sqlite" scheme (modernc.org/sqlite, no cgo).
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// RunUp applies all pending UP migrations to a SQLite database file.
//
// # Parameters
//   - migrations: Filesystem holding the numbered *.up.sql / *.down.sql files.
//   - dir: Directory inside migrations ("." for the root).
//   - databasePath: Path of the SQLite file.
//   - logger: Structured logger for migration events.
func RunUp(migrations fs.FS, dir string, databasePath string, logger *slog.Logger) error {
	source, err := iofs.New(migrations, dir)
	if err != nil {
		return fmt.Errorf("migration: failed to open embedded source: %w", err)
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", source, SQLiteURL(databasePath))
	if err != nil {
		return fmt.Errorf("migration: failed to initialize: %w", err)
	}
	defer func() {
		sourceError, dbError := migrator.Close()
		if sourceError != nil {
			logger.Error("migration_source_close_failed", slog.Any("error", sourceError))
		}
		if dbError != nil {
			logger.Error("migration_db_close_failed", slog.Any("error", dbError))
		}
	}()

	migrator.Log = &migrateLogger{logger: logger}

	currentVersion, isDirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migration: failed to get current version: %w", err)
	}

	if isDirty {
		return fmt.Errorf("migration: database is in a dirty state at version %d (manual intervention required)", currentVersion)
	}

	logger.Info("migration_started", slog.Int("current_version", int(currentVersion)))

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("migration_already_up_to_date")
			return nil
		}
		return fmt.Errorf("migration: up failed: %w", err)
	}

	newVersion, _, _ := migrator.Version()
	logger.Info("migration_successful",
		slog.Int("from_version", int(currentVersion)),
		slog.Int("to_version", int(newVersion)),
	)

	return nil
}

// SQLiteURL converts a file path into the "sqlite://" URL golang-migrate expects.
func SQLiteURL(path string) string {
	const prefix = "sqlite://"

	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		return path
	}

	return prefix + path
}

// migrateLogger adapts golang-migrate's logger interface to slog.
type migrateLogger struct {
	logger  *slog.Logger
	verbose bool
}

// Printf implements migrate.Logger.
func (l *migrateLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Verbose implements migrate.Logger.
func (l *migrateLogger) Verbose() bool {
	return l.verbose
}
