// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taibuivan/yomira-reader/internal/library"
	"github.com/taibuivan/yomira-reader/internal/platform/apperr"
	"github.com/taibuivan/yomira-reader/internal/platform/constants"
	"github.com/taibuivan/yomira-reader/internal/platform/validate"
	"github.com/taibuivan/yomira-reader/internal/reader/pagecache"
	"github.com/taibuivan/yomira-reader/internal/reader/prefetch"
	"github.com/taibuivan/yomira-reader/internal/reader/progress"
	"github.com/taibuivan/yomira-reader/pkg/uuid"
)

// FieldBookID is the validation field name of the book identifier.
const FieldBookID = "book_id"

// metadataTimeout bounds the background catalogue lookup of a new session.
const metadataTimeout = 30 * time.Second

// # Configuration

// Config tunes every session created by a [Manager].
type Config struct {
	Window        pagecache.Window
	Prefetch      prefetch.Options
	ProgressDelay time.Duration
	ReadyTimeout  time.Duration
	IdleTTL       time.Duration
}

// Dependencies are the collaborators shared by all sessions.
type Dependencies struct {
	Catalog   library.Catalog
	Loader    pagecache.Loader
	Blobs     pagecache.BlobRegistry
	Sender    progress.Sender
	Navigator Navigator
}

// # Manager

// Manager owns the open sessions.
type Manager struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a [Manager].
func NewManager(deps Dependencies, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

/*
Create opens a session for bookID.

Description: Returns immediately; book metadata loads in the background and
every session operation waits for it.

Parameters:
  - ctx: context.Context
  - bookID: string (UUID)
  - opts: *prefetch.Options (nil selects the configured defaults)

Returns:
  - *Session: The new session
  - error: VALIDATION_ERROR for a malformed book id
*/
func (manager *Manager) Create(ctx context.Context, bookID string, opts *prefetch.Options) (*Session, error) {
	validator := &validate.Validator{}
	validator.Required(FieldBookID, bookID)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	preferences := manager.cfg.Prefetch
	if opts != nil {
		preferences = *opts
	}

	logger := manager.logger
	session := &Session{
		ID:           uuid.New(),
		BookID:       bookID,
		CreatedAt:    time.Now(),
		cache:        pagecache.New(manager.deps.Loader, manager.deps.Blobs, pagecache.WithWindow(manager.cfg.Window), pagecache.WithLogger(logger)),
		syncer:       progress.NewSyncer(manager.deps.Sender, manager.cfg.ProgressDelay, logger),
		navigator:    manager.deps.Navigator,
		logger:       logger,
		ready:        make(chan struct{}),
		readyTimeout: manager.cfg.ReadyTimeout,
		lastSeen:     time.Now(),
	}

	manager.mu.Lock()
	manager.sessions[session.ID] = session
	manager.mu.Unlock()

	go func() {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metadataTimeout)
		defer cancel()
		session.loadMetadata(loadCtx, manager.deps.Catalog, preferences)
	}()

	manager.logger.InfoContext(ctx, "session_opened",
		slog.String("session_id", session.ID),
		slog.String("book_id", bookID),
	)
	return session, nil
}

// Get returns the session with the given id.
func (manager *Manager) Get(id string) (*Session, error) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	session, ok := manager.sessions[id]
	if !ok {
		return nil, apperr.NotFound("Session")
	}
	return session, nil
}

// Len returns the number of open sessions.
func (manager *Manager) Len() int {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return len(manager.sessions)
}

// Close ends and forgets the session with the given id.
func (manager *Manager) Close(ctx context.Context, id string) error {
	manager.mu.Lock()
	session, ok := manager.sessions[id]
	delete(manager.sessions, id)
	manager.mu.Unlock()

	if !ok {
		return apperr.NotFound("Session")
	}
	return session.Close(ctx)
}

/*
Reap closes every session idle since before now minus the idle TTL.

Returns:
  - int: Number of sessions closed
*/
func (manager *Manager) Reap(ctx context.Context, now time.Time) int {
	if manager.cfg.IdleTTL <= 0 {
		return 0
	}

	manager.mu.Lock()
	var idle []*Session
	for id, session := range manager.sessions {
		if now.Sub(session.LastSeen()) > manager.cfg.IdleTTL {
			idle = append(idle, session)
			delete(manager.sessions, id)
		}
	}
	manager.mu.Unlock()

	for _, session := range idle {
		if err := session.Close(ctx); err != nil {
			manager.logger.WarnContext(ctx, "session_close_failed",
				slog.String("session_id", session.ID),
				slog.Any("error", err),
			)
		}
	}

	if len(idle) > 0 {
		manager.logger.InfoContext(ctx, "sessions_reaped", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// Run reaps idle sessions until ctx is cancelled, then closes the rest.
func (manager *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(constants.SessionReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			manager.CloseAll(context.WithoutCancel(ctx))
			return
		case now := <-ticker.C:
			manager.Reap(ctx, now)
		}
	}
}

// CloseAll ends every session, flushing their progress.
func (manager *Manager) CloseAll(ctx context.Context) {
	manager.mu.Lock()
	sessions := manager.sessions
	manager.sessions = make(map[string]*Session)
	manager.mu.Unlock()

	for _, session := range sessions {
		_ = session.Close(ctx)
	}
}
