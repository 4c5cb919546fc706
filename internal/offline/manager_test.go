// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package offline_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-reader/internal/library"
	"github.com/taibuivan/yomira-reader/internal/offline"
	"github.com/taibuivan/yomira-reader/internal/platform/apperr"
	"github.com/taibuivan/yomira-reader/internal/swcache"
)

const (
	upstream   = "https://lib.example"
	imageCache = "yomira-images-v1"
)

// # Fakes

type fakeLibrary struct {
	mu      sync.Mutex
	calls   []int
	fail    func(page int) bool
	gate    chan struct{}
	started chan int
}

func (lib *fakeLibrary) FetchPage(ctx context.Context, bookID string, page int, _ bool) (*library.Page, error) {
	lib.mu.Lock()
	lib.calls = append(lib.calls, page)
	lib.mu.Unlock()

	if lib.started != nil {
		lib.started <- page
	}
	if lib.gate != nil {
		<-lib.gate
	}
	if lib.fail != nil && lib.fail(page) {
		return nil, &library.StatusError{URL: lib.PageURL(bookID, page), StatusCode: 500}
	}
	return &library.Page{URL: lib.PageURL(bookID, page), ContentType: "image/png", Data: []byte(fmt.Sprintf("page %d", page))}, nil
}

func (lib *fakeLibrary) PageURL(bookID string, page int) string {
	return fmt.Sprintf("%s/pages/%s/%d", upstream, bookID, page)
}

func (lib *fakeLibrary) BaseURL() string { return upstream }

func (lib *fakeLibrary) Calls() []int {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	return slices.Clone(lib.calls)
}

// fakePages is the image cache of a worker, on memory storage.
type fakePages struct {
	storage swcache.Storage
	broken  error
	onPut   func(entry *swcache.Entry)

	mu      sync.Mutex
	removed []string
}

func newFakePages() *fakePages {
	return &fakePages{storage: swcache.NewMemoryStorage()}
}

func (pages *fakePages) Ping(ctx context.Context) error {
	if pages.broken != nil {
		return pages.broken
	}
	return pages.storage.Ping(ctx)
}

func (pages *fakePages) PutImage(ctx context.Context, entry *swcache.Entry) error {
	if pages.onPut != nil {
		pages.onPut(entry)
	}
	return pages.storage.Put(ctx, imageCache, entry)
}

func (pages *fakePages) RemoveImage(ctx context.Context, url string) (bool, error) {
	removed, err := pages.storage.Remove(ctx, imageCache, url)
	if removed {
		pages.mu.Lock()
		pages.removed = append(pages.removed, url)
		pages.mu.Unlock()
	}
	return removed, err
}

func (pages *fakePages) HasImage(ctx context.Context, url string) (bool, error) {
	_, ok, err := pages.storage.Match(ctx, imageCache, url)
	return ok, err
}

func (pages *fakePages) Keys(t *testing.T) []string {
	keys, err := pages.storage.Keys(context.Background(), imageCache)
	require.NoError(t, err)
	return keys
}

// gatedStore holds the first Put of one state until release is closed.
type gatedStore struct {
	offline.StatusStore

	hold    offline.State
	held    chan struct{}
	release chan struct{}
	reads   chan struct{}
	once    sync.Once
}

func newGatedStore(hold offline.State) *gatedStore {
	return &gatedStore{
		StatusStore: offline.NewMemoryStore(),
		hold:        hold,
		held:        make(chan struct{}),
		release:     make(chan struct{}),
		reads:       make(chan struct{}, 16),
	}
}

func (store *gatedStore) Get(ctx context.Context, bookID string) (*offline.Status, bool, error) {
	select {
	case <-store.held:
		select {
		case store.reads <- struct{}{}:
		default:
		}
	default:
	}
	return store.StatusStore.Get(ctx, bookID)
}

func (store *gatedStore) Put(ctx context.Context, status *offline.Status) error {
	if status.State == store.hold {
		store.once.Do(func() {
			close(store.held)
			<-store.release
		})
	}
	return store.StatusStore.Put(ctx, status)
}

func fastConfig() offline.Config {
	return offline.Config{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, StaleThreshold: 5 * time.Minute}
}

func newManager(t *testing.T, store offline.StatusStore, pages *fakePages, lib *fakeLibrary, opts ...offline.Option) *offline.Manager {
	t.Helper()

	manager := offline.NewManager(store, pages, lib, fastConfig(), opts...)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })
	return manager
}

/*
TestManager_Download_AllOrNothing fails page 7 of 10 and expects zero pages left.
*/
func TestManager_Download_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	lib := &fakeLibrary{fail: func(page int) bool { return page == 7 }}
	pages := newFakePages()
	manager := newManager(t, offline.NewMemoryStore(), pages, lib)

	status, err := manager.Download(ctx, "book", 10)
	require.NoError(t, err)

	// 1. The book ends in error with an accurate failure count
	assert.Equal(t, offline.StateError, status.State)
	assert.Equal(t, 1, status.Failures)

	// 2. Every page was attempted; page 7 exactly three times
	calls := lib.Calls()
	assert.Len(t, calls, 12)
	assert.Equal(t, 3, countOf(calls, 7))
	assert.Equal(t, 10, calls[len(calls)-1])

	// 3. Nothing of the book survives
	assert.Empty(t, pages.Keys(t))

	current, err := manager.Status(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, offline.StateError, current.State)
}

/*
TestManager_Download_Available stores every page plus the index marker.
*/
func TestManager_Download_Available(t *testing.T) {
	ctx := context.Background()
	lib := &fakeLibrary{}
	pages := newFakePages()
	store := offline.NewMemoryStore()
	manager := newManager(t, store, pages, lib)

	status, err := manager.Download(ctx, "book", 4)
	require.NoError(t, err)
	assert.Equal(t, offline.StateAvailable, status.State)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 4, status.LastDownloadedPage)

	assert.Equal(t, []string{
		upstream + "/pages/book/1",
		upstream + "/pages/book/2",
		upstream + "/pages/book/3",
		upstream + "/pages/book/4",
		manager.MarkerURL("book"),
	}, pages.Keys(t))

	// Downloading an available book is a no-op
	again, err := manager.Download(ctx, "book", 4)
	require.NoError(t, err)
	assert.Equal(t, offline.StateAvailable, again.State)
	assert.Len(t, lib.Calls(), 4)

	// An available record without its marker reads as idle
	_, err = pages.RemoveImage(ctx, manager.MarkerURL("book"))
	require.NoError(t, err)
	current, err := manager.Status(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, offline.StateIdle, current.State)
}

/*
TestManager_Remove deletes pages first, the marker after them, and the record last.
*/
func TestManager_Remove(t *testing.T) {
	ctx := context.Background()
	pages := newFakePages()
	store := offline.NewMemoryStore()
	manager := newManager(t, store, pages, &fakeLibrary{})

	_, err := manager.Download(ctx, "book", 3)
	require.NoError(t, err)

	require.NoError(t, manager.Remove(ctx, "book"))

	assert.Equal(t, []string{
		upstream + "/pages/book/1",
		upstream + "/pages/book/2",
		upstream + "/pages/book/3",
		manager.MarkerURL("book"),
	}, pages.removed)
	assert.Empty(t, pages.Keys(t))

	_, ok, err := store.Get(ctx, "book")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing again is harmless
	require.NoError(t, manager.Remove(ctx, "book"))
}

/*
TestManager_Resume continues a fresh interrupted download at the next page.
*/
func TestManager_Resume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	store := offline.NewMemoryStore()
	pages := newFakePages()

	// 1. A previous process stored pages 1..4 and died
	seed := &offline.Status{BookID: "book", State: offline.StateDownloading, PagesCount: 6}
	seed.Advance(4)
	seed.Touch(now.Add(-1 * time.Minute))
	require.NoError(t, store.Put(ctx, seed))
	for page := 1; page <= 4; page++ {
		require.NoError(t, pages.PutImage(ctx, &swcache.Entry{URL: fmt.Sprintf("%s/pages/book/%d", upstream, page), Status: 200, Body: []byte("old")}))
	}

	// 2. A fresh manager resumes at page 5
	lib := &fakeLibrary{}
	manager := newManager(t, store, pages, lib, offline.WithClock(func() time.Time { return now }))

	resumed, err := manager.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	require.Eventually(t, func() bool {
		status, err := manager.Status(ctx, "book")
		return err == nil && status.State == offline.StateAvailable
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []int{5, 6}, lib.Calls())
	assert.Len(t, pages.Keys(t), 7)
}

/*
TestManager_StaleReset turns an abandoned download into an error without any fetch.
*/
func TestManager_StaleReset(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	store := offline.NewMemoryStore()
	pages := newFakePages()

	seed := &offline.Status{BookID: "book", State: offline.StateDownloading, PagesCount: 8}
	seed.Advance(3)
	seed.Touch(now.Add(-6 * time.Minute))
	require.NoError(t, store.Put(ctx, seed))
	for page := 1; page <= 3; page++ {
		require.NoError(t, pages.PutImage(ctx, &swcache.Entry{URL: fmt.Sprintf("%s/pages/book/%d", upstream, page), Status: 200}))
	}

	lib := &fakeLibrary{}
	manager := newManager(t, store, pages, lib, offline.WithClock(func() time.Time { return now }))

	status, err := manager.Status(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, offline.StateError, status.State)
	assert.Empty(t, pages.Keys(t))
	assert.Empty(t, lib.Calls())

	// Resume skips it
	resumed, err := manager.Resume(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)
	assert.Empty(t, lib.Calls())
}

/*
TestManager_Cancel stops a running download after the in-flight page and rolls back.
*/
func TestManager_Cancel(t *testing.T) {
	ctx := context.Background()
	lib := &fakeLibrary{gate: make(chan struct{}), started: make(chan int, 16)}
	pages := newFakePages()
	manager := newManager(t, offline.NewMemoryStore(), pages, lib)

	status, err := manager.Start(ctx, "book", 5)
	require.NoError(t, err)
	assert.Equal(t, offline.StateDownloading, status.State)

	// 1. Let page 1 through, hold page 2 on the wire
	assert.Equal(t, 1, <-lib.started)
	lib.gate <- struct{}{}
	assert.Equal(t, 2, <-lib.started)

	// 2. A second start conflicts
	_, err = manager.Start(ctx, "book", 5)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.As(err).Code)

	// 3. Cancel, then release the in-flight fetch
	cancelled, err := manager.Cancel(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, offline.StateIdle, cancelled.State)
	lib.gate <- struct{}{}

	require.Eventually(t, func() bool {
		return len(pages.Keys(t)) == 0 && len(lib.Calls()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	current, err := manager.Status(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, offline.StateIdle, current.State)

	// 4. Cancelling an idle book conflicts
	_, err = manager.Cancel(ctx, "book")
	assert.Equal(t, "CONFLICT", apperr.As(err).Code)
}

/*
TestManager_Cancel_AfterCompletion cancels while the "available" record is
being written. The download wins and the cache keeps the whole book.
*/
func TestManager_Cancel_AfterCompletion(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore(offline.StateAvailable)
	pages := newFakePages()
	manager := newManager(t, store, pages, &fakeLibrary{})

	type result struct {
		status *offline.Status
		err    error
	}
	downloaded := make(chan result, 1)
	go func() {
		status, err := manager.Download(ctx, "book", 2)
		downloaded <- result{status, err}
	}()

	// 1. Completion is being persisted; Cancel still reads "downloading"
	<-store.held
	cancelled := make(chan error, 1)
	go func() {
		_, err := manager.Cancel(ctx, "book")
		cancelled <- err
	}()
	<-store.reads
	close(store.release)

	// 2. The download reports available and Cancel conflicts
	done := <-downloaded
	require.NoError(t, done.err)
	assert.Equal(t, offline.StateAvailable, done.status.State)

	err := <-cancelled
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.As(err).Code)

	// 3. Record and cache agree
	current, err := manager.Status(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, offline.StateAvailable, current.State)
	assert.ElementsMatch(t, []string{
		upstream + "/pages/book/1",
		upstream + "/pages/book/2",
		manager.MarkerURL("book"),
	}, pages.Keys(t))
}

/*
TestManager_Cancel_BeforeAvailable cancels after the index marker is stored but
before the record turns "available", and expects the marker rolled back too.
*/
func TestManager_Cancel_BeforeAvailable(t *testing.T) {
	ctx := context.Background()
	pages := newFakePages()
	manager := newManager(t, offline.NewMemoryStore(), pages, &fakeLibrary{})

	markerHeld := make(chan struct{})
	release := make(chan struct{})
	pages.onPut = func(entry *swcache.Entry) {
		if entry.URL == manager.MarkerURL("book") {
			close(markerHeld)
			<-release
		}
	}

	type result struct {
		status *offline.Status
		err    error
	}
	downloaded := make(chan result, 1)
	go func() {
		status, err := manager.Download(ctx, "book", 2)
		downloaded <- result{status, err}
	}()

	// 1. Cancel while the marker is being written
	<-markerHeld
	cancelled, err := manager.Cancel(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, offline.StateIdle, cancelled.State)
	close(release)

	// 2. The download settles as idle with nothing left behind
	done := <-downloaded
	require.NoError(t, done.err)
	assert.Equal(t, offline.StateIdle, done.status.State)
	assert.Empty(t, pages.Keys(t))

	current, err := manager.Status(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, offline.StateIdle, current.State)
}

/*
TestManager_Unsupported degrades to OFFLINE_UNSUPPORTED when the cache is unusable.
*/
func TestManager_Unsupported(t *testing.T) {
	pages := newFakePages()
	pages.broken = errors.New("disk full")
	manager := newManager(t, offline.NewMemoryStore(), pages, &fakeLibrary{})

	_, err := manager.Start(context.Background(), "book", 3)
	require.Error(t, err)
	assert.Equal(t, "OFFLINE_UNSUPPORTED", apperr.As(err).Code)

	_, err = manager.Status(context.Background(), "book")
	assert.Equal(t, "OFFLINE_UNSUPPORTED", apperr.As(err).Code)
}

/*
TestDecodeStatus rejects records outside the four known states.
*/
func TestDecodeStatus(t *testing.T) {
	status, err := offline.DecodeStatus([]byte(`{"bookId":"b","status":"downloading","progress":40,"lastDownloadedPage":4,"pagesCount":10,"timestamp":1760000000000}`))
	require.NoError(t, err)
	assert.Equal(t, offline.StateDownloading, status.State)
	assert.Equal(t, int64(1760000000000), status.UpdatedAt().UnixMilli())

	_, err = offline.DecodeStatus([]byte(`{"bookId":"b","status":"paused"}`))
	assert.ErrorIs(t, err, offline.ErrCorruptStatus)

	_, err = offline.DecodeStatus([]byte(`not json`))
	assert.ErrorIs(t, err, offline.ErrCorruptStatus)

	assert.Equal(t, "book-status-b", offline.StatusKey("b"))
}

func countOf(values []int, target int) int {
	count := 0
	for _, value := range values {
		if value == target {
			count++
		}
	}
	return count
}
