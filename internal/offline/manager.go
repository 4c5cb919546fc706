// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taibuivan/yomira-reader/internal/library"
	"github.com/taibuivan/yomira-reader/internal/platform/apperr"
	"github.com/taibuivan/yomira-reader/internal/platform/constants"
	"github.com/taibuivan/yomira-reader/internal/swcache"
)

// # Dependencies

// Library fetches page images straight from the library server.
type Library interface {
	FetchPage(ctx context.Context, bookID string, page int, bypass bool) (*library.Page, error)
	PageURL(bookID string, page int) string
	BaseURL() string
}

// PageStore is the slice of the persistent cache the downloader writes to.
// [*swcache.Worker] satisfies it.
type PageStore interface {
	Ping(ctx context.Context) error
	PutImage(ctx context.Context, entry *swcache.Entry) error
	RemoveImage(ctx context.Context, url string) (bool, error)
	HasImage(ctx context.Context, url string) (bool, error)
}

// Config tunes the retry loop and the stale detection.
type Config struct {
	Attempts       int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	StaleThreshold time.Duration
}

// DefaultConfig returns 3 attempts, 1s doubling up to 5s, and a 5 minute stale threshold.
func DefaultConfig() Config {
	return Config{
		Attempts:       3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       5 * time.Second,
		StaleThreshold: 5 * time.Minute,
	}
}

func (cfg Config) withDefaults() Config {
	defaults := DefaultConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaults.Attempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(defaults.MaxDelay, cfg.BaseDelay)
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = defaults.StaleThreshold
	}
	return cfg
}

// # Manager

// Manager runs offline downloads. One download per book at a time.
type Manager struct {
	store   StatusStore
	pages   PageStore
	library Library
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	// base scopes background downloads; Close cancels it.
	base context.Context
	stop context.CancelFunc

	// statusMu makes the download loop's progress writes atomic with Cancel.
	statusMu sync.Mutex

	mu      sync.Mutex
	running map[string]chan struct{}
	wg      sync.WaitGroup
}

// Option customises a [Manager].
type Option func(*Manager)

// WithClock replaces the wall clock used for timestamps and stale detection.
func WithClock(now func() time.Time) Option {
	return func(manager *Manager) { manager.now = now }
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(manager *Manager) { manager.logger = logger }
}

/*
NewManager constructs a download [Manager].

Parameters:
  - store: StatusStore (persisted status records)
  - pages: PageStore (persistent image cache)
  - lib: Library (direct page fetches, never through the cache)
  - cfg: Config (zero fields take the defaults)
*/
func NewManager(store StatusStore, pages PageStore, lib Library, cfg Config, opts ...Option) *Manager {
	base, stop := context.WithCancel(context.Background())

	manager := &Manager{
		store:   store,
		pages:   pages,
		library: lib,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
		now:     time.Now,
		base:    base,
		stop:    stop,
		running: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// MarkerURL is the cache key of the index marker of bookID.
func (manager *Manager) MarkerURL(bookID string) string {
	return manager.library.BaseURL() + "/offline/books/" + bookID + "/index"
}

// # Public Operations

/*
Status returns the effective record of bookID.

Description: A stale "downloading" record is reset to "error" (rolling its
pages back) and an "available" record whose index marker is gone reads as
"idle". Neither case touches the network.
*/
func (manager *Manager) Status(ctx context.Context, bookID string) (*Status, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}
	return manager.inspect(ctx, bookID)
}

// List returns the effective record of every book with a stored record.
func (manager *Manager) List(ctx context.Context) ([]*Status, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}

	stored, err := manager.store.List(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]*Status, 0, len(stored))
	for _, record := range stored {
		status, err := manager.inspect(ctx, record.BookID)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

/*
Start begins (or resumes) the download of bookID in the background.

Returns:
  - *Status: The record as persisted before the first page is fetched
  - error: Conflict when a download is already running, OfflineUnsupported when the cache is unusable
*/
func (manager *Manager) Start(ctx context.Context, bookID string, pagesCount int) (*Status, error) {
	status, start, done, err := manager.prepare(ctx, bookID, pagesCount)
	if err != nil || done == nil {
		return status, err
	}

	manager.wg.Add(1)
	go func() {
		defer manager.wg.Done()
		_, _ = manager.run(manager.base, status.Clone(), start, done)
	}()

	return status, nil
}

// Download runs the download of bookID in the caller's goroutine and returns the final record.
func (manager *Manager) Download(ctx context.Context, bookID string, pagesCount int) (*Status, error) {
	status, start, done, err := manager.prepare(ctx, bookID, pagesCount)
	if err != nil || done == nil {
		return status, err
	}
	return manager.run(ctx, status, start, done)
}

/*
Resume restarts every interrupted download found in the store.

Description: Fresh "downloading" records continue from lastDownloadedPage+1;
stale ones are reset to "error" instead.

Returns:
  - int: Number of downloads restarted
*/
func (manager *Manager) Resume(ctx context.Context) (int, error) {
	if err := manager.check(ctx); err != nil {
		return 0, err
	}

	statuses, err := manager.store.List(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, stored := range statuses {
		if stored.State != StateDownloading || manager.isRunning(stored.BookID) {
			continue
		}

		current, err := manager.inspect(ctx, stored.BookID)
		if err != nil {
			manager.logger.WarnContext(ctx, "offline_resume_failed", slog.String("book_id", stored.BookID), slog.Any("error", err))
			continue
		}
		if current.State != StateDownloading {
			continue
		}

		if _, err := manager.Start(ctx, current.BookID, current.PagesCount); err != nil {
			manager.logger.WarnContext(ctx, "offline_resume_failed", slog.String("book_id", stored.BookID), slog.Any("error", err))
			continue
		}
		resumed++
	}

	manager.logger.InfoContext(ctx, "offline_downloads_resumed", slog.Int("count", resumed))
	return resumed, nil
}

/*
Cancel asks a running download to stop.

Description: The loop observes the "idle" state before its next page and rolls
back what it stored; a fetch already on the wire completes and is discarded.
A download left over by a previous process is rolled back here. A download that
settles before the cancel lands is kept and reported as a conflict.
*/
func (manager *Manager) Cancel(ctx context.Context, bookID string) (*Status, error) {
	if err := manager.check(ctx); err != nil {
		return nil, err
	}

	current, err := manager.inspect(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if current.State != StateDownloading {
		return nil, apperr.Conflict("Book is not downloading")
	}

	// The download may have settled since it was inspected.
	cancelled, wasDownloading, err := manager.markIdle(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !wasDownloading {
		return nil, apperr.Conflict("Book is not downloading")
	}

	if !manager.isRunning(bookID) {
		manager.rollback(ctx, cancelled)
	}

	manager.logger.InfoContext(ctx, "offline_download_cancel_requested", slog.String("book_id", bookID))
	return cancelled, nil
}

/*
Remove deletes the offline copy of bookID.

Description: Page entries go first, then the index marker, then the status
record. Every step is attempted even when an earlier one fails.
*/
func (manager *Manager) Remove(ctx context.Context, bookID string) error {
	if err := manager.check(ctx); err != nil {
		return err
	}

	current, err := manager.inspect(ctx, bookID)
	if err != nil {
		return err
	}

	if current.State == StateDownloading {
		if _, _, err := manager.markIdle(ctx, bookID); err != nil {
			return err
		}
		if err := manager.wait(ctx, bookID); err != nil {
			return err
		}
	}

	var errs []error
	for page := 1; page <= pagesOf(current); page++ {
		if _, err := manager.pages.RemoveImage(ctx, manager.library.PageURL(bookID, page)); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := manager.pages.RemoveImage(ctx, manager.MarkerURL(bookID)); err != nil {
		errs = append(errs, err)
	}
	if err := manager.store.Delete(ctx, bookID); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		manager.logger.ErrorContext(ctx, "offline_remove_incomplete", slog.String("book_id", bookID), slog.Any("error", err))
		return err
	}

	manager.logger.InfoContext(ctx, "offline_book_removed", slog.String("book_id", bookID))
	return nil
}

/*
Close stops background downloads and waits for them.

Description: Interrupted downloads keep their "downloading" record so the next
process resumes them.
*/
func (manager *Manager) Close(ctx context.Context) error {
	manager.stop()

	done := make(chan struct{})
	go func() {
		manager.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// # Download Loop

// prepare validates and claims a download. A nil done channel with a nil error means nothing to do.
func (manager *Manager) prepare(ctx context.Context, bookID string, pagesCount int) (*Status, int, chan struct{}, error) {
	if err := manager.check(ctx); err != nil {
		return nil, 0, nil, err
	}
	if pagesCount <= 0 {
		return nil, 0, nil, apperr.ValidationError("Book has no pages")
	}

	current, err := manager.inspect(ctx, bookID)
	if err != nil {
		return nil, 0, nil, err
	}
	if current.State == StateAvailable {
		return current, 0, nil, nil
	}

	done, ok := manager.claim(bookID)
	if !ok {
		return nil, 0, nil, apperr.Conflict("Book is already downloading")
	}

	status := &Status{BookID: bookID, State: StateDownloading, PagesCount: pagesCount}
	start := 1
	if current.State == StateDownloading && current.PagesCount == pagesCount {
		status = current.Clone()
		start = current.LastDownloadedPage + 1
	}

	status.Touch(manager.now())
	if err := manager.store.Put(ctx, status); err != nil {
		manager.release(bookID, done)
		return nil, 0, nil, err
	}

	manager.logger.InfoContext(ctx, "offline_download_started",
		slog.String("book_id", bookID),
		slog.Int("pages", pagesCount),
		slog.Int("start_page", start),
	)
	return status.Clone(), start, done, nil
}

// run fetches pages start..PagesCount in order and settles the record.
func (manager *Manager) run(ctx context.Context, status *Status, start int, done chan struct{}) (*Status, error) {
	defer manager.release(status.BookID, done)

	bookID := status.BookID
	for page := start; page <= status.PagesCount; page++ {
		if err := ctx.Err(); err != nil {
			manager.logger.WarnContext(ctx, "offline_download_interrupted", slog.String("book_id", bookID), slog.Int("page", page))
			return status, err
		}

		entry, err := manager.fetch(ctx, bookID, page)
		switch {
		case err != nil && ctx.Err() != nil:
			return status, ctx.Err()
		case err != nil:
			status.Failures++
			manager.logger.WarnContext(ctx, "offline_page_failed",
				slog.String("book_id", bookID),
				slog.Int("page", page),
				slog.Any("error", err),
			)
		default:
			if err := manager.pages.PutImage(ctx, entry); err != nil {
				status.Failures++
				manager.logger.ErrorContext(ctx, "offline_page_store_failed",
					slog.String("book_id", bookID),
					slog.Int("page", page),
					slog.Any("error", err),
				)
			}
		}

		status.Advance(page)
		status.Touch(manager.now())

		kept, err := manager.persist(ctx, status)
		if err != nil {
			return status, err
		}
		if !kept {
			manager.rollback(ctx, status)
			manager.logger.InfoContext(ctx, "offline_download_cancelled", slog.String("book_id", bookID), slog.Int("page", page))
			return manager.inspect(ctx, bookID)
		}
	}

	return manager.complete(ctx, status)
}

// complete turns a finished pass into "available" or rolls it back into "error".
func (manager *Manager) complete(ctx context.Context, status *Status) (*Status, error) {
	if status.Failures > 0 {
		manager.rollback(ctx, status)

		status.State = StateError
		status.Touch(manager.now())
		if _, err := manager.persist(ctx, status); err != nil {
			return status, err
		}

		manager.logger.ErrorContext(ctx, "offline_download_failed",
			slog.String("book_id", status.BookID),
			slog.Int("failures", status.Failures),
		)
		return status, nil
	}

	if err := manager.pages.PutImage(ctx, manager.marker(status)); err != nil {
		return status, fmt.Errorf("offline: store index marker: %w", err)
	}

	status.State = StateAvailable
	status.Progress = 100
	status.Touch(manager.now())

	kept, err := manager.persist(ctx, status)
	if err != nil {
		return status, err
	}
	if !kept {
		manager.rollback(ctx, status)
		return manager.inspect(ctx, status.BookID)
	}

	manager.logger.InfoContext(ctx, "offline_download_completed",
		slog.String("book_id", status.BookID),
		slog.Int("pages", status.PagesCount),
	)
	return status, nil
}

// fetch downloads one page, retrying with exponential backoff.
func (manager *Manager) fetch(ctx context.Context, bookID string, page int) (*swcache.Entry, error) {
	retries := backoff.WithContext(retryPolicy(manager.cfg), ctx)

	var fetched *library.Page
	operation := func() error {
		result, err := manager.library.FetchPage(ctx, bookID, page, false)
		if err != nil {
			return err
		}
		fetched = result
		return nil
	}
	notify := func(err error, wait time.Duration) {
		manager.logger.DebugContext(ctx, "offline_page_retry",
			slog.String("book_id", bookID),
			slog.Int("page", page),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	if err := backoff.RetryNotify(operation, retries, notify); err != nil {
		return nil, err
	}

	header := http.Header{}
	if fetched.ContentType != "" {
		header.Set(constants.HeaderContentType, fetched.ContentType)
	}
	return &swcache.Entry{
		URL:      manager.library.PageURL(bookID, page),
		Status:   http.StatusOK,
		Header:   header,
		Body:     fetched.Data,
		StoredAt: manager.now(),
	}, nil
}

// retryPolicy waits BaseDelay, doubling up to MaxDelay, and gives up after Attempts tries.
func retryPolicy(cfg Config) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.BaseDelay
	policy.Multiplier = 2
	policy.MaxInterval = cfg.MaxDelay
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	retries := backoff.WithMaxRetries(policy, uint64(cfg.Attempts-1))
	retries.Reset()
	return retries
}

// # Internal Helpers

// inspect reads a record and resolves every state to its effective value.
func (manager *Manager) inspect(ctx context.Context, bookID string) (*Status, error) {
	status, ok, err := manager.store.Get(ctx, bookID)
	if errors.Is(err, ErrCorruptStatus) {
		manager.logger.WarnContext(ctx, "offline_status_corrupt", slog.String("book_id", bookID), slog.Any("error", err))
		return Idle(bookID), manager.store.Delete(ctx, bookID)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return Idle(bookID), nil
	}

	switch status.State {
	case StateIdle, StateError:
		return status, nil

	case StateDownloading:
		if manager.isRunning(bookID) || !status.StaleAt(manager.now(), manager.cfg.StaleThreshold) {
			return status, nil
		}
		return manager.resetStale(ctx, status)

	case StateAvailable:
		has, err := manager.pages.HasImage(ctx, manager.MarkerURL(bookID))
		if err != nil {
			return nil, err
		}
		if !has {
			return Idle(bookID), nil
		}
		return status, nil

	default:
		return nil, fmt.Errorf("%w: unknown state %q", ErrCorruptStatus, status.State)
	}
}

// resetStale turns an abandoned download into an error and drops its pages.
func (manager *Manager) resetStale(ctx context.Context, status *Status) (*Status, error) {
	manager.rollback(ctx, status)

	status.State = StateError
	status.Touch(manager.now())
	if err := manager.store.Put(ctx, status); err != nil {
		return nil, err
	}

	manager.logger.WarnContext(ctx, "offline_download_stale",
		slog.String("book_id", status.BookID),
		slog.Int("last_page", status.LastDownloadedPage),
	)
	return status, nil
}

// persist writes a loop-owned record unless the download was cancelled meanwhile.
func (manager *Manager) persist(ctx context.Context, status *Status) (bool, error) {
	manager.statusMu.Lock()
	defer manager.statusMu.Unlock()

	current, ok, err := manager.store.Get(ctx, status.BookID)
	if err != nil && !errors.Is(err, ErrCorruptStatus) {
		return false, err
	}
	if !ok || current.State != StateDownloading {
		return false, nil
	}
	return true, manager.store.Put(ctx, status)
}

/*
markIdle flips a "downloading" record to "idle", the cooperative cancel signal.

Records in any other state are left untouched and reported with false.
*/
func (manager *Manager) markIdle(ctx context.Context, bookID string) (*Status, bool, error) {
	manager.statusMu.Lock()
	defer manager.statusMu.Unlock()

	current, ok, err := manager.store.Get(ctx, bookID)
	if err != nil {
		return nil, false, err
	}
	if !ok || current.State != StateDownloading {
		return current, false, nil
	}

	current.State = StateIdle
	current.Touch(manager.now())
	if err := manager.store.Put(ctx, current); err != nil {
		return nil, false, err
	}
	return current, true, nil
}

// rollback removes every page of the book and its index marker from the cache. Failures are logged.
func (manager *Manager) rollback(ctx context.Context, status *Status) {
	urls := make([]string, 0, pagesOf(status)+1)
	for page := 1; page <= pagesOf(status); page++ {
		urls = append(urls, manager.library.PageURL(status.BookID, page))
	}
	urls = append(urls, manager.MarkerURL(status.BookID))

	removed := 0
	for _, url := range urls {
		ok, err := manager.pages.RemoveImage(ctx, url)
		if err != nil {
			manager.logger.WarnContext(ctx, "offline_rollback_failed",
				slog.String("book_id", status.BookID),
				slog.String("url", url),
				slog.Any("error", err),
			)
			continue
		}
		if ok {
			removed++
		}
	}
	manager.logger.InfoContext(ctx, "offline_rolled_back", slog.String("book_id", status.BookID), slog.Int("removed", removed))
}

// marker builds the index entry written once every page is stored.
func (manager *Manager) marker(status *Status) *swcache.Entry {
	body, _ := json.Marshal(map[string]any{"bookId": status.BookID, "pagesCount": status.PagesCount})

	header := http.Header{}
	header.Set(constants.HeaderContentType, "application/json")
	return &swcache.Entry{
		URL:      manager.MarkerURL(status.BookID),
		Status:   http.StatusOK,
		Header:   header,
		Body:     body,
		StoredAt: manager.now(),
	}
}

func (manager *Manager) check(ctx context.Context) error {
	if err := manager.pages.Ping(ctx); err != nil {
		return apperr.OfflineUnsupported(err)
	}
	return nil
}

func (manager *Manager) claim(bookID string) (chan struct{}, bool) {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if _, busy := manager.running[bookID]; busy {
		return nil, false
	}
	done := make(chan struct{})
	manager.running[bookID] = done
	return done, true
}

func (manager *Manager) release(bookID string, done chan struct{}) {
	manager.mu.Lock()
	if manager.running[bookID] == done {
		delete(manager.running, bookID)
	}
	manager.mu.Unlock()
	close(done)
}

func (manager *Manager) isRunning(bookID string) bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	_, ok := manager.running[bookID]
	return ok
}

// wait blocks until the in-process download of bookID, if any, has returned.
func (manager *Manager) wait(ctx context.Context, bookID string) error {
	manager.mu.Lock()
	done, ok := manager.running[bookID]
	manager.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pagesOf is the highest page number the record may have stored.
func pagesOf(status *Status) int {
	return max(status.PagesCount, status.LastDownloadedPage)
}
