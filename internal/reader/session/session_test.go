// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-reader/internal/library"
	"github.com/taibuivan/yomira-reader/internal/platform/apperr"
	"github.com/taibuivan/yomira-reader/internal/reader/blobstore"
	"github.com/taibuivan/yomira-reader/internal/reader/pagecache"
	"github.com/taibuivan/yomira-reader/internal/reader/prefetch"
	"github.com/taibuivan/yomira-reader/internal/reader/progress"
	"github.com/taibuivan/yomira-reader/internal/reader/session"
)

// # Test Doubles

type fakeCatalog struct {
	books map[string]*library.Book
	gate  chan struct{}
}

func (catalog *fakeCatalog) FindBook(ctx context.Context, id string) (*library.Book, error) {
	if catalog.gate != nil {
		select {
		case <-catalog.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	book, ok := catalog.books[id]
	if !ok {
		return nil, apperr.NotFound("Book")
	}
	return book, nil
}

type fakeLoader struct{}

func (fakeLoader) Load(_ context.Context, key pagecache.Key, _ bool) (*pagecache.Resource, error) {
	return &pagecache.Resource{Data: []byte(key.Book + "/" + key.String()), ContentType: "image/png"}, nil
}

func (fakeLoader) PassthroughURL(key pagecache.Key) string {
	return fmt.Sprintf("https://library.example/pages/%s/%d", key.Book, key.Page)
}

type fakeSender struct {
	mu      sync.Mutex
	records []progress.Record
}

func (sender *fakeSender) SendProgress(_ context.Context, record progress.Record) error {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	sender.records = append(sender.records, record)
	return nil
}

type fixture struct {
	manager *session.Manager
	blobs   *blobstore.Store
	sender  *fakeSender
	catalog *fakeCatalog
	views   chan session.View
}

func newFixture(t *testing.T, cfg session.Config) *fixture {
	t.Helper()

	f := &fixture{
		blobs:  blobstore.New("http://gateway.test"),
		sender: &fakeSender{},
		catalog: &fakeCatalog{books: map[string]*library.Book{
			"short": {ID: "short", PagesCount: 5},
			"long":  {ID: "long", PagesCount: 40, Next: &library.BookRef{ID: "sequel", PagesCount: 20}},
		}},
		views: make(chan session.View, 16),
	}

	if cfg.Window == (pagecache.Window{}) {
		cfg.Window = pagecache.DefaultWindow
	}
	if cfg.Prefetch == (prefetch.Options{}) {
		cfg.Prefetch = prefetch.DefaultOptions()
	}
	if cfg.ProgressDelay == 0 {
		cfg.ProgressDelay = time.Hour
	}

	f.manager = session.NewManager(session.Dependencies{
		Catalog: f.catalog,
		Loader:  fakeLoader{},
		Blobs:   f.blobs,
		Sender:  f.sender,
		Navigator: func(_ context.Context, view session.View) {
			f.views <- view
		},
	}, cfg, nil)
	return f
}

/*
TestSession_Navigate_WarmsBatch verifies the concrete five-page scenario.
*/
func TestSession_Navigate_WarmsBatch(t *testing.T) {
	f := newFixture(t, session.Config{Prefetch: prefetch.Options{Ahead: 4, Behind: 2}})
	ctx := context.Background()

	reader, err := f.manager.Create(ctx, "short", nil)
	require.NoError(t, err)

	// 1. The current page comes back ready to render
	view, err := reader.Navigate(ctx, 3)
	require.NoError(t, err)
	require.Len(t, view.Pages, 1)
	assert.Equal(t, 3, view.Pages[0].Page)
	assert.Contains(t, view.Pages[0].URL, "http://gateway.test/blobs/")
	assert.Equal(t, 5, view.Total)

	// 2. The background batch fills in the rest of the book
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]int{1, 2, 3, 4, 5}, reader.CachedPages())
	}, time.Second, 5*time.Millisecond)

	// 3. The navigator saw the view
	select {
	case seen := <-f.views:
		assert.Equal(t, 3, seen.Page)
	case <-time.After(time.Second):
		t.Fatal("navigator was not called")
	}
}

/*
TestSession_Navigate_Spread returns both members of a spread.
*/
func TestSession_Navigate_Spread(t *testing.T) {
	f := newFixture(t, session.Config{})
	ctx := context.Background()

	reader, err := f.manager.Create(ctx, "long", &prefetch.Options{Ahead: 2, Behind: 0, DoublePage: true})
	require.NoError(t, err)

	view, err := reader.Navigate(ctx, 6)
	require.NoError(t, err)
	assert.True(t, view.Spread)
	require.Len(t, view.Pages, 2)
	assert.Equal(t, 7, view.Pages[1].Page)

	// Page 1 is never part of a spread
	view, err = reader.Navigate(ctx, 1)
	require.NoError(t, err)
	assert.False(t, view.Spread)
}

/*
TestSession_Navigate_Evicts keeps only the window around the latest page.
*/
func TestSession_Navigate_Evicts(t *testing.T) {
	f := newFixture(t, session.Config{})
	ctx := context.Background()

	reader, err := f.manager.Create(ctx, "long", nil)
	require.NoError(t, err)

	for page := 1; page <= 6; page++ {
		_, err := reader.Navigate(ctx, page)
		require.NoError(t, err)
	}
	_, err = reader.Navigate(ctx, 30)
	require.NoError(t, err)

	// Nothing outside [22, 38] survives, and the dropped URLs are released
	require.Eventually(t, func() bool {
		for _, page := range reader.CachedPages() {
			if page < 22 || page > 38 {
				return false
			}
		}
		return len(reader.CachedPages()) > 0
	}, time.Second, 5*time.Millisecond)
}

/*
TestSession_Readiness covers the bounded wait for book metadata.
*/
func TestSession_Readiness(t *testing.T) {
	f := newFixture(t, session.Config{ReadyTimeout: 100 * time.Millisecond})
	f.catalog.gate = make(chan struct{})
	ctx := context.Background()

	reader, err := f.manager.Create(ctx, "short", nil)
	require.NoError(t, err)

	// 1. Metadata still loading: a single bounded wait, then 503
	_, err = reader.Navigate(ctx, 1)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, 503, appErr.HTTPStatus)

	// 2. Once loaded, the same session works
	close(f.catalog.gate)
	_, err = reader.Navigate(ctx, 1)
	require.NoError(t, err)

	// 3. Unknown books surface NOT_FOUND
	missing, err := f.manager.Create(ctx, "missing", nil)
	require.NoError(t, err)
	_, err = missing.PageURL(ctx, 1)
	require.NotNil(t, apperr.As(err))
	assert.Equal(t, 404, apperr.As(err).HTTPStatus)
}

/*
TestSession_OutOfRange rejects pages outside the book.
*/
func TestSession_OutOfRange(t *testing.T) {
	f := newFixture(t, session.Config{})
	reader, err := f.manager.Create(context.Background(), "short", nil)
	require.NoError(t, err)

	for _, page := range []int{0, 6, -1} {
		_, err := reader.Navigate(context.Background(), page)
		require.Error(t, err)
		assert.Equal(t, 400, apperr.As(err).HTTPStatus)
	}
}

/*
TestSession_Close flushes progress and revokes every URL.
*/
func TestSession_Close(t *testing.T) {
	f := newFixture(t, session.Config{})
	ctx := context.Background()

	reader, err := f.manager.Create(ctx, "short", nil)
	require.NoError(t, err)

	_, err = reader.Navigate(ctx, 5)
	require.NoError(t, err)

	require.NoError(t, f.manager.Close(ctx, reader.ID))

	// 1. All blobs released
	assert.Zero(t, f.blobs.Len())

	// 2. The debounced progress was flushed on close
	require.Len(t, f.sender.records, 1)
	assert.Equal(t, progress.Record{BookID: "short", Page: 5, Completed: true}, f.sender.records[0])

	// 3. The session is gone
	_, err = f.manager.Get(reader.ID)
	assert.Equal(t, 404, apperr.As(err).HTTPStatus)
}

/*
TestSession_Navigate_FinalSpreadCompletes marks the book completed when the
last page is the right-hand side of the visible spread.
*/
func TestSession_Navigate_FinalSpreadCompletes(t *testing.T) {
	f := newFixture(t, session.Config{})
	ctx := context.Background()

	reader, err := f.manager.Create(ctx, "short", &prefetch.Options{Ahead: 1, DoublePage: true})
	require.NoError(t, err)

	// 1. Pages 4 and 5 are shown together
	view, err := reader.Navigate(ctx, 4)
	require.NoError(t, err)
	require.True(t, view.Spread)
	assert.Equal(t, 5, view.Pages[1].Page)

	// 2. The flushed progress reports completion
	require.NoError(t, f.manager.Close(ctx, reader.ID))
	require.Len(t, f.sender.records, 1)
	assert.Equal(t, progress.Record{BookID: "short", Page: 4, Completed: true}, f.sender.records[0])
}

/*
TestManager_Reap closes idle sessions only.
*/
func TestManager_Reap(t *testing.T) {
	f := newFixture(t, session.Config{IdleTTL: time.Minute})
	ctx := context.Background()

	idle, err := f.manager.Create(ctx, "short", nil)
	require.NoError(t, err)

	assert.Zero(t, f.manager.Reap(ctx, time.Now()))
	assert.Equal(t, 1, f.manager.Reap(ctx, time.Now().Add(2*time.Minute)))

	_, err = f.manager.Get(idle.ID)
	assert.Error(t, err)
	assert.Zero(t, f.manager.Len())
}

/*
TestSession_Invalidate_Reload drops and refreshes pages.
*/
func TestSession_Invalidate_Reload(t *testing.T) {
	f := newFixture(t, session.Config{})
	ctx := context.Background()

	reader, err := f.manager.Create(ctx, "short", nil)
	require.NoError(t, err)

	first, err := reader.PageURL(ctx, 2)
	require.NoError(t, err)

	reloaded, err := reader.Reload(ctx, 2)
	require.NoError(t, err)
	assert.NotEqual(t, first, reloaded)

	_, live := f.blobs.Lookup(first)
	assert.False(t, live)

	assert.Equal(t, 1, reader.Invalidate(pagecache.ScopePage(2)))
	assert.Empty(t, reader.CachedPages())
}
