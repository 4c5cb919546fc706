// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pagecache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-reader/internal/reader/blobstore"
	"github.com/taibuivan/yomira-reader/internal/reader/pagecache"
)

// # Test Doubles

// fakeLoader serves "book/page" bytes, optionally gated and failing.
type fakeLoader struct {
	calls   atomic.Int64
	bypass  atomic.Int64
	gate    chan struct{}
	fail    func(key pagecache.Key) bool
	version atomic.Int64
}

func (loader *fakeLoader) Load(ctx context.Context, key pagecache.Key, bypass bool) (*pagecache.Resource, error) {
	loader.calls.Add(1)
	if bypass {
		loader.bypass.Add(1)
	}
	if loader.gate != nil {
		<-loader.gate
	}
	if loader.fail != nil && loader.fail(key) {
		return nil, errors.New("upstream unavailable")
	}
	body := fmt.Sprintf("%s/%s#%d", key.Book, key.String(), loader.version.Load())
	return &pagecache.Resource{Data: []byte(body), ContentType: "image/png"}, nil
}

func (loader *fakeLoader) PassthroughURL(key pagecache.Key) string {
	return fmt.Sprintf("https://library.example/pages/%s/%d", key.Book, key.Page)
}

func page(n int) pagecache.Key { return pagecache.Key{Book: "book-1", Page: n} }

/*
TestCache_SingleFlight verifies that concurrent preloads of one page share a fetch.
*/
func TestCache_SingleFlight(t *testing.T) {
	loader := &fakeLoader{gate: make(chan struct{})}
	blobs := blobstore.New("")
	cache := pagecache.New(loader, blobs)

	const callers = 16
	var wg sync.WaitGroup
	urls := make([]string, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Preload(context.Background(), page(3))
			urls[i], _ = cache.URL(page(3))
		}()
	}

	close(loader.gate)
	wg.Wait()

	// 1. Exactly one network request
	assert.Equal(t, int64(1), loader.calls.Load())

	// 2. Every caller observes the same URL
	require.NotEmpty(t, urls[0])
	for _, url := range urls {
		assert.Equal(t, urls[0], url)
	}

	// 3. A later preload is a no-op
	cache.Preload(context.Background(), page(3))
	assert.Equal(t, int64(1), loader.calls.Load())
}

/*
TestCache_SingleFlight_Failure verifies that a failed fetch leaves no partial entry.
*/
func TestCache_SingleFlight_Failure(t *testing.T) {
	loader := &fakeLoader{
		gate: make(chan struct{}),
		fail: func(pagecache.Key) bool { return true },
	}
	cache := pagecache.New(loader, blobstore.New(""))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Preload(context.Background(), page(5))
		}()
	}
	close(loader.gate)
	wg.Wait()

	// All callers observe absence together, and the slot is free for a retry
	_, ok := cache.URL(page(5))
	assert.False(t, ok)
	assert.Zero(t, cache.Len())

	// Retrying after the backend recovers succeeds
	loader.fail = nil
	cache.Preload(context.Background(), page(5))
	_, ok = cache.URL(page(5))
	assert.True(t, ok)
}

/*
TestCache_GetURL_Fallback returns the passthrough URL when the page cannot be fetched.
*/
func TestCache_GetURL_Fallback(t *testing.T) {
	loader := &fakeLoader{fail: func(key pagecache.Key) bool { return key.Page == 9 }}
	cache := pagecache.New(loader, blobstore.New(""))

	assert.Equal(t, "https://library.example/pages/book-1/9", cache.GetURL(context.Background(), page(9)))
	assert.Contains(t, cache.GetURL(context.Background(), page(2)), "/blobs/")
}

/*
TestCache_Evict verifies the sliding window and URL revocation.
*/
func TestCache_Evict(t *testing.T) {
	loader := &fakeLoader{}
	blobs := blobstore.New("")
	cache := pagecache.New(loader, blobs)

	urls := make(map[int]string)
	for n := 1; n <= 30; n++ {
		urls[n] = cache.GetURL(context.Background(), page(n))
	}

	// 1. Navigate to page 15: window is [7, 23]
	evicted := cache.Evict(15)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 24, 25, 26, 27, 28, 29, 30}, evicted)
	assert.Equal(t, []int{7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}, cache.Pages())

	// 2. Every evicted URL is revoked; revoking again does not fail
	for _, n := range evicted {
		_, live := blobs.Lookup(urls[n])
		assert.False(t, live, "page %d should be revoked", n)
		assert.False(t, blobs.Revoke(urls[n]))
	}
	_, live := blobs.Lookup(urls[15])
	assert.True(t, live)
}

/*
TestCache_Evict_CustomWindow honours a configured window and leaves successor pages alone.
*/
func TestCache_Evict_CustomWindow(t *testing.T) {
	cache := pagecache.New(&fakeLoader{}, blobstore.New(""), pagecache.WithWindow(pagecache.Window{Behind: 1, Ahead: 2}))

	for n := 1; n <= 6; n++ {
		cache.Preload(context.Background(), page(n))
	}
	next := pagecache.Key{Book: "book-2", Page: 1, Next: true}
	cache.Preload(context.Background(), next)

	cache.Evict(3)
	assert.Equal(t, []int{2, 3, 4, 5}, cache.Pages())

	_, ok := cache.URL(next)
	assert.True(t, ok)
}

/*
TestCache_Evict_SkipsInFlight never evicts a page whose fetch is running.
*/
func TestCache_Evict_SkipsInFlight(t *testing.T) {
	loader := &fakeLoader{gate: make(chan struct{})}
	cache := pagecache.New(loader, blobstore.New(""))

	done := make(chan struct{})
	go func() {
		cache.Preload(context.Background(), page(40))
		close(done)
	}()

	// Wait for the placeholder to appear
	require.Eventually(t, func() bool {
		entry, ok := cache.Entry(page(40))
		return ok && entry.Loading
	}, time.Second, time.Millisecond)

	assert.Empty(t, cache.Evict(1))

	close(loader.gate)
	<-done

	_, ok := cache.URL(page(40))
	assert.True(t, ok)
	assert.Equal(t, []int{40}, cache.Evict(1))
}

/*
TestCache_NamespacedKeys keeps successor-book pages apart from current-book pages.
*/
func TestCache_NamespacedKeys(t *testing.T) {
	cache := pagecache.New(&fakeLoader{}, blobstore.New(""))

	current := cache.GetURL(context.Background(), page(1))
	next := cache.GetURL(context.Background(), pagecache.Key{Book: "book-2", Page: 1, Next: true})

	assert.NotEqual(t, current, next)
	assert.Equal(t, "next-1", pagecache.Key{Page: 1, Next: true}.String())
	assert.Equal(t, 2, cache.Len())
}

/*
TestCache_Reload swaps the URL and revokes the old one only after success.
*/
func TestCache_Reload(t *testing.T) {
	loader := &fakeLoader{}
	blobs := blobstore.New("")
	cache := pagecache.New(loader, blobs)

	oldURL := cache.GetURL(context.Background(), page(4))

	// 1. A failed reload keeps the old URL alive
	loader.fail = func(pagecache.Key) bool { return true }
	_, err := cache.Reload(context.Background(), page(4))
	require.Error(t, err)
	_, live := blobs.Lookup(oldURL)
	assert.True(t, live)

	// 2. A successful reload bypasses caches and swaps
	loader.fail = nil
	loader.version.Store(2)
	newURL, err := cache.Reload(context.Background(), page(4))
	require.NoError(t, err)
	assert.NotEqual(t, oldURL, newURL)
	assert.Equal(t, int64(2), loader.bypass.Load())

	_, live = blobs.Lookup(oldURL)
	assert.False(t, live)

	blob, live := blobs.Lookup(newURL)
	require.True(t, live)
	assert.Equal(t, "book-1/4#2", string(blob.Data))
}

/*
TestCache_Invalidate drops entries by scope.
*/
func TestCache_Invalidate(t *testing.T) {
	cache := pagecache.New(&fakeLoader{}, blobstore.New(""))
	for n := 1; n <= 4; n++ {
		cache.Preload(context.Background(), page(n))
	}
	cache.Preload(context.Background(), pagecache.Key{Book: "book-2", Page: 1, Next: true})

	assert.Equal(t, 1, cache.Invalidate(pagecache.ScopePage(2)))
	assert.Equal(t, []int{1, 3, 4}, cache.Pages())

	assert.Equal(t, 3, cache.Invalidate(pagecache.ScopeBook()))
	assert.Equal(t, 1, cache.Len())

	assert.Equal(t, 1, cache.Invalidate(pagecache.ScopeAll()))
	assert.Zero(t, cache.Len())
}

/*
TestCache_Invalidate_MidFlight drops a page while its fetch is running and
expects the next preload to fetch it again.
*/
func TestCache_Invalidate_MidFlight(t *testing.T) {
	loader := &fakeLoader{gate: make(chan struct{})}
	blobs := blobstore.New("")
	cache := pagecache.New(loader, blobs)

	// 1. First fetch is held on the wire
	first := make(chan struct{})
	go func() {
		defer close(first)
		cache.Preload(context.Background(), page(3))
	}()
	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)

	// 2. Drop the page, then ask for it again
	assert.Equal(t, 1, cache.Invalidate(pagecache.ScopePage(3)))

	second := make(chan struct{})
	go func() {
		defer close(second)
		cache.Preload(context.Background(), page(3))
	}()
	require.Eventually(t, func() bool { return loader.calls.Load() == 2 }, time.Second, time.Millisecond)

	// 3. Both fetches finish; only the second one is kept
	close(loader.gate)
	<-first
	<-second

	url, ok := cache.URL(page(3))
	require.True(t, ok)
	assert.NotEmpty(t, url)
	assert.Equal(t, 1, blobs.Len())
}

/*
TestCache_Close revokes every URL and ignores later loads.
*/
func TestCache_Close(t *testing.T) {
	blobs := blobstore.New("")
	cache := pagecache.New(&fakeLoader{}, blobs)

	for n := 1; n <= 3; n++ {
		cache.Preload(context.Background(), page(n))
	}
	require.Equal(t, 3, blobs.Len())

	cache.Close()
	assert.Zero(t, blobs.Len())

	cache.Preload(context.Background(), page(1))
	assert.Zero(t, cache.Len())
}
