// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package session ties the page cache, the prefetch scheduler and the progress
syncer together for one open book.

A [Session] is what a browser tab is to the reading client: it owns a private
page cache that nobody else touches and tears it down, revoking every URL,
when the reader leaves. Sessions are created, looked up and reaped by the
[Manager] and exposed over HTTP by the [Handler].

# Readiness

Book metadata loads in the background. Every operation that needs it waits on
a completion channel closed exactly once, bounded by a single timeout.
*/
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/taibuivan/yomira-reader/internal/library"
	"github.com/taibuivan/yomira-reader/internal/platform/apperr"
	"github.com/taibuivan/yomira-reader/internal/reader/pagecache"
	"github.com/taibuivan/yomira-reader/internal/reader/prefetch"
	"github.com/taibuivan/yomira-reader/internal/reader/progress"
)

// # Navigation

// PageView is one renderable page.
type PageView struct {
	Page int    `json:"page"`
	URL  string `json:"url"`
}

// View is what the reader shows after a navigation: one page or a spread.
type View struct {
	SessionID string     `json:"session_id"`
	BookID    string     `json:"book_id"`
	Page      int        `json:"page"`
	Total     int        `json:"total"`
	Spread    bool       `json:"spread"`
	Pages     []PageView `json:"pages"`
}

// Navigator is told about every completed navigation.
//
// It is handed to the [Manager] explicitly; components that need to react to
// page turns subscribe here instead of reaching into shared state.
type Navigator func(ctx context.Context, view View)

// # Session

// Session is one reader's open book.
type Session struct {
	ID        string
	BookID    string
	CreatedAt time.Time

	cache     *pagecache.Cache
	syncer    *progress.Syncer
	navigator Navigator
	logger    *slog.Logger

	ready        chan struct{}
	readyTimeout time.Duration
	book         *library.Book
	scheduler    *prefetch.Scheduler
	loadErr      error

	mu       sync.Mutex
	current  int
	lastSeen time.Time
	closed   bool

	background sync.WaitGroup
}

// loadMetadata resolves the book and closes the readiness channel.
func (session *Session) loadMetadata(ctx context.Context, catalog library.Catalog, opts prefetch.Options) {
	defer close(session.ready)

	book, err := catalog.FindBook(ctx, session.BookID)
	if err != nil {
		session.loadErr = err
		session.logger.WarnContext(ctx, "session_metadata_failed",
			slog.String("session_id", session.ID),
			slog.String("book_id", session.BookID),
			slog.Any("error", err),
		)
		return
	}

	target := prefetch.Book{ID: book.ID, PagesCount: book.PagesCount}
	if book.Next != nil {
		target.NextID = book.Next.ID
		target.NextPagesCount = book.Next.PagesCount
	}

	session.book = book
	session.scheduler = prefetch.NewScheduler(session.cache, target, opts, session.logger)
}

/*
Ready waits for book metadata.

Returns:
  - *library.Book: The loaded metadata
  - error: The catalogue error, SERVICE_UNAVAILABLE on timeout, or ctx.Err()
*/
func (session *Session) Ready(ctx context.Context) (*library.Book, error) {
	timer := time.NewTimer(session.readyTimeout)
	defer timer.Stop()

	select {
	case <-session.ready:
		if session.loadErr != nil {
			return nil, session.loadErr
		}
		return session.book, nil
	case <-timer.C:
		return nil, apperr.ServiceUnavailable("Book metadata is not available yet")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

/*
Navigate moves the cursor to page.

Description: The page (and its spread partner) are loaded before returning.
The rest of the prefetch batch runs in the background, followed by window
eviction around the latest cursor. A progress update is queued.

Returns:
  - *View: URLs to render
  - error: VALIDATION_ERROR for an out-of-range page, or a readiness error
*/
func (session *Session) Navigate(ctx context.Context, page int) (*View, error) {
	book, err := session.readyFor(ctx, page)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	session.current = page
	session.lastSeen = time.Now()
	session.mu.Unlock()

	opts := session.scheduler.Options()
	visible := []int{page}
	paired, spread := prefetch.PairedPage(page, book.PagesCount, opts)
	if spread {
		visible = append(visible, paired)
	}

	// Visible pages first, concurrently
	keys := make([]pagecache.Key, 0, len(visible))
	for _, number := range visible {
		keys = append(keys, session.scheduler.Key(number))
	}
	session.scheduler.Run(ctx, keys)

	view := &View{
		SessionID: session.ID,
		BookID:    book.ID,
		Page:      page,
		Total:     book.PagesCount,
		Spread:    spread,
	}
	for _, key := range keys {
		view.Pages = append(view.Pages, PageView{Page: key.Page, URL: session.cache.GetURL(ctx, key)})
	}

	// Remainder of the batch, then eviction around wherever the cursor is by then
	var rest []pagecache.Key
	for _, key := range session.scheduler.Plan(page) {
		if key.Next || (key.Page != page && (!spread || key.Page != paired)) {
			rest = append(rest, key)
		}
	}
	session.goBackground(func(bg context.Context) {
		session.scheduler.Run(bg, rest)
		session.cache.Evict(session.Current())
	})

	// A spread is finished when its right-hand page is the last one.
	lastVisible := page
	if spread {
		lastVisible = paired
	}
	session.syncer.Record(progress.Record{
		BookID:    book.ID,
		Page:      page,
		Completed: lastVisible == book.PagesCount,
	})

	if session.navigator != nil {
		session.navigator(ctx, *view)
	}

	return view, nil
}

// PageURL returns a renderable URL for page.
func (session *Session) PageURL(ctx context.Context, page int) (string, error) {
	if _, err := session.readyFor(ctx, page); err != nil {
		return "", err
	}
	session.touch()
	return session.cache.GetURL(ctx, session.scheduler.Key(page)), nil
}

/*
Prefetch warms the pages in [from, to] in the background.

Returns:
  - int: Number of pages scheduled after clipping to the book
  - error: Readiness error or VALIDATION_ERROR when from > to
*/
func (session *Session) Prefetch(ctx context.Context, from, to int) (int, error) {
	if from > to {
		return 0, apperr.ValidationError("Invalid page range",
			apperr.FieldError{Field: "from", Message: "Must not exceed 'to'"})
	}
	if _, err := session.Ready(ctx); err != nil {
		return 0, err
	}
	session.touch()

	keys := session.scheduler.Range(from, to)
	session.goBackground(func(bg context.Context) {
		session.scheduler.Run(bg, keys)
	})
	return len(keys), nil
}

// Invalidate drops cached pages selected by scope.
func (session *Session) Invalidate(scope pagecache.Scope) int {
	session.touch()
	return session.cache.Invalidate(scope)
}

// Reload force-fetches page and swaps its URL.
func (session *Session) Reload(ctx context.Context, page int) (string, error) {
	if _, err := session.readyFor(ctx, page); err != nil {
		return "", err
	}
	session.touch()

	url, err := session.cache.Reload(ctx, session.scheduler.Key(page))
	if err != nil {
		if errors.Is(err, pagecache.ErrClosed) {
			return "", apperr.NotFound("Session")
		}
		return "", apperr.BadGateway(err)
	}
	return url, nil
}

// SetOptions replaces the prefetch preferences.
func (session *Session) SetOptions(ctx context.Context, opts prefetch.Options) error {
	if _, err := session.Ready(ctx); err != nil {
		return err
	}
	session.touch()
	session.scheduler.SetOptions(opts)
	return nil
}

// Options returns the prefetch preferences, or the zero value before readiness.
func (session *Session) Options() prefetch.Options {
	select {
	case <-session.ready:
		if session.scheduler != nil {
			return session.scheduler.Options()
		}
	default:
	}
	return prefetch.Options{}
}

// Current returns the last page navigated to (0 before the first navigation).
func (session *Session) Current() int {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.current
}

// CachedPages lists the current-book pages held in memory.
func (session *Session) CachedPages() []int {
	return session.cache.Pages()
}

// LastSeen returns the time of the last client interaction.
func (session *Session) LastSeen() time.Time {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.lastSeen
}

/*
Close ends the session.

Description: Waits for background prefetches, flushes the pending progress
update, then revokes every URL the session handed out. Safe to call twice.
*/
func (session *Session) Close(ctx context.Context) error {
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return nil
	}
	session.closed = true
	session.mu.Unlock()

	session.background.Wait()

	err := session.syncer.Close(ctx)
	session.cache.Close()

	session.logger.InfoContext(ctx, "session_closed",
		slog.String("session_id", session.ID),
		slog.String("book_id", session.BookID),
	)
	return err
}

// # Internal Helpers

// readyFor waits for metadata and checks page against the book bounds.
func (session *Session) readyFor(ctx context.Context, page int) (*library.Book, error) {
	book, err := session.Ready(ctx)
	if err != nil {
		return nil, err
	}
	if page < 1 || page > book.PagesCount {
		return nil, apperr.ValidationError("Page out of range",
			apperr.FieldError{Field: "page", Message: "Must be between 1 and the page count"})
	}
	return book, nil
}

func (session *Session) touch() {
	session.mu.Lock()
	session.lastSeen = time.Now()
	session.mu.Unlock()
}

// goBackground runs fn unless the session is closing.
func (session *Session) goBackground(fn func(ctx context.Context)) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.closed {
		return
	}
	session.background.Add(1)
	go func() {
		defer session.background.Done()
		fn(context.Background())
	}()
}
