// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package pagecache keeps the pages around the reading cursor ready to render.

A [Cache] belongs to exactly one reading session. It maps page keys to fetched
bytes and a Blob URL, fetches each page at most once at a time (single-flight),
and drops everything that falls outside a sliding window around the current
page.

# Failure Semantics

A page that fails to load is logged and forgotten: the caller sees no URL and
may ask again later. Nothing here returns load errors to the reader, a missing
page must never end a reading session.

# Lifecycle

Every URL handed out stays valid until its entry is evicted, invalidated,
replaced by a forced reload, or the cache is closed.
*/
package pagecache

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// # Keys & Entries

// Key identifies a page inside the session's namespace.
//
// Pages of the successor book are prefetched under the "next-" namespace so
// they never collide with current-book pages of the same number.
type Key struct {
	Book string
	Page int
	Next bool
}

// String returns the cache slot name ("12" or "next-3").
func (key Key) String() string {
	if key.Next {
		return "next-" + strconv.Itoa(key.Page)
	}
	return strconv.Itoa(key.Page)
}

// Entry is the state of one cached page.
type Entry struct {
	PageNumber  int
	Bytes       []byte
	ContentType string
	URL         string
	FetchedAt   time.Time
	Loading     bool // a fetch is in flight; the entry has no URL yet
	next        bool
}

// Resource is a fetched page body.
type Resource struct {
	Data        []byte
	ContentType string
}

// # Collaborators

// Loader fetches page bytes from the library.
type Loader interface {
	// Load fetches the page. bypass asks every cache on the way to be skipped.
	Load(ctx context.Context, key Key, bypass bool) (*Resource, error)

	// PassthroughURL is the direct page URL, used when no Blob URL can be produced.
	PassthroughURL(key Key) string
}

// BlobRegistry issues and revokes Blob URLs.
type BlobRegistry interface {
	Create(data []byte, contentType string) string
	Revoke(url string) bool
}

// # Window

// Window is the eviction window around the current page.
type Window struct {
	Behind int
	Ahead  int
}

// DefaultWindow keeps eight pages on either side of the cursor.
var DefaultWindow = Window{Behind: 8, Ahead: 8}

// Contains reports whether page lies inside the window around current.
func (window Window) Contains(current, page int) bool {
	return page >= current-window.Behind && page <= current+window.Ahead
}

// # Cache

// Cache is the per-session page cache. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	closed  bool

	flights singleflight.Group
	loader  Loader
	blobs   BlobRegistry
	window  Window
	logger  *slog.Logger
}

// Option configures a [Cache].
type Option func(*Cache)

// WithWindow overrides [DefaultWindow].
func WithWindow(window Window) Option {
	return func(cache *Cache) {
		cache.window = window
	}
}

// WithLogger sets the logger used for swallowed load failures.
func WithLogger(logger *slog.Logger) Option {
	return func(cache *Cache) {
		if logger != nil {
			cache.logger = logger
		}
	}
}

// New constructs an empty [Cache].
func New(loader Loader, blobs BlobRegistry, opts ...Option) *Cache {
	cache := &Cache{
		entries: make(map[string]*Entry),
		loader:  loader,
		blobs:   blobs,
		window:  DefaultWindow,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

/*
Preload makes sure the page is fetched.

Description: No-op when the page already has a URL. Concurrent calls for the
same key share one fetch. The fetch is detached from ctx's cancellation: once
issued it runs to completion, and other waiters rely on its result.
*/
func (cache *Cache) Preload(ctx context.Context, key Key) {
	if _, ok := cache.URL(key); ok {
		return
	}

	detached := context.WithoutCancel(ctx)
	_, _, _ = cache.flights.Do(key.String(), func() (any, error) {
		cache.load(detached, key)
		return nil, nil
	})
}

// URL returns the cached Blob URL of key, if loaded.
func (cache *Cache) URL(key Key) (string, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	entry, ok := cache.entries[key.String()]
	if !ok || entry.URL == "" {
		return "", false
	}
	return entry.URL, true
}

/*
GetURL returns a URL the reader can render right now.

Returns:
  - string: The cached Blob URL, or the URL produced by a fresh preload, or
    the direct passthrough URL when the page could not be fetched.
*/
func (cache *Cache) GetURL(ctx context.Context, key Key) string {
	if url, ok := cache.URL(key); ok {
		return url
	}

	cache.Preload(ctx, key)

	if url, ok := cache.URL(key); ok {
		return url
	}
	return cache.loader.PassthroughURL(key)
}

// Entry returns a copy of the entry stored under key.
func (cache *Cache) Entry(key Key) (Entry, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	entry, ok := cache.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

/*
Evict drops every current-book page outside the window around current.

Description: Entries with a fetch in flight are left alone; they are picked up
by the next navigation. Successor-book entries are not subject to the window.

Returns:
  - []int: The evicted page numbers, ascending.
*/
func (cache *Cache) Evict(current int) []int {
	cache.mu.Lock()

	var evicted []int
	var urls []string
	for slot, entry := range cache.entries {
		if entry.next || entry.Loading || cache.window.Contains(current, entry.PageNumber) {
			continue
		}
		evicted = append(evicted, entry.PageNumber)
		urls = append(urls, entry.URL)
		delete(cache.entries, slot)
	}
	cache.mu.Unlock()

	for _, url := range urls {
		cache.blobs.Revoke(url)
	}

	sort.Ints(evicted)
	return evicted
}

/*
Reload re-fetches a page while bypassing every cache and swaps its URL.

Description: The old URL is revoked only after the new one exists, so a
renderer holding the old URL never sees it die before the replacement is
available.

Returns:
  - string: The new Blob URL
  - error: The fetch failure; the previous entry is left untouched
*/
func (cache *Cache) Reload(ctx context.Context, key Key) (string, error) {
	resource, err := cache.loader.Load(ctx, key, true)
	if err != nil {
		cache.logger.WarnContext(ctx, "page_reload_failed",
			slog.String("slot", key.String()),
			slog.String("book_id", key.Book),
			slog.Any("error", err),
		)
		return "", err
	}

	newURL := cache.blobs.Create(resource.Data, resource.ContentType)

	cache.mu.Lock()
	if cache.closed {
		cache.mu.Unlock()
		cache.blobs.Revoke(newURL)
		return "", ErrClosed
	}

	var oldURL string
	if previous, ok := cache.entries[key.String()]; ok {
		oldURL = previous.URL
	}
	cache.entries[key.String()] = newEntry(key, resource, newURL)
	cache.mu.Unlock()

	if oldURL != "" {
		cache.blobs.Revoke(oldURL)
	}
	return newURL, nil
}

// Pages returns the loaded current-book page numbers, ascending.
func (cache *Cache) Pages() []int {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	pages := make([]int, 0, len(cache.entries))
	for _, entry := range cache.entries {
		if !entry.next && entry.URL != "" {
			pages = append(pages, entry.PageNumber)
		}
	}
	sort.Ints(pages)
	return pages
}

// Len returns the number of entries, loading ones included.
func (cache *Cache) Len() int {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return len(cache.entries)
}

// Close revokes every URL and refuses further loads.
func (cache *Cache) Close() {
	cache.mu.Lock()
	cache.closed = true
	entries := cache.entries
	cache.entries = make(map[string]*Entry)
	cache.mu.Unlock()

	for slot, entry := range entries {
		cache.flights.Forget(slot)
		if entry.URL != "" {
			cache.blobs.Revoke(entry.URL)
		}
	}
}

// # Internal Helpers

// load runs inside the single-flight group for key.
func (cache *Cache) load(ctx context.Context, key Key) {
	slot := key.String()

	// Double-check: the previous flight may have just stored the page.
	cache.mu.Lock()
	if cache.closed {
		cache.mu.Unlock()
		return
	}
	if entry, ok := cache.entries[slot]; ok && entry.URL != "" {
		cache.mu.Unlock()
		return
	}
	placeholder := &Entry{PageNumber: key.Page, Loading: true, next: key.Next}
	cache.entries[slot] = placeholder
	cache.mu.Unlock()

	resource, err := cache.loader.Load(ctx, key, false)
	if err != nil {
		cache.mu.Lock()
		if cache.entries[slot] == placeholder {
			delete(cache.entries, slot)
		}
		cache.mu.Unlock()

		cache.logger.WarnContext(ctx, "page_preload_failed",
			slog.String("slot", slot),
			slog.String("book_id", key.Book),
			slog.Any("error", err),
		)
		return
	}

	url := cache.blobs.Create(resource.Data, resource.ContentType)

	cache.mu.Lock()
	// Invalidated, reloaded or closed while the fetch was running: discard.
	if cache.closed || cache.entries[slot] != placeholder {
		cache.mu.Unlock()
		cache.blobs.Revoke(url)
		return
	}
	cache.entries[slot] = newEntry(key, resource, url)
	cache.mu.Unlock()
}

func newEntry(key Key, resource *Resource, url string) *Entry {
	return &Entry{
		PageNumber:  key.Page,
		Bytes:       resource.Data,
		ContentType: resource.ContentType,
		URL:         url,
		FetchedAt:   time.Now(),
		next:        key.Next,
	}
}
