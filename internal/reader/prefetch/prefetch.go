// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package prefetch decides which pages to warm around the reading cursor.

On every navigation the [Scheduler] plans a batch (current page, its spread
partner, N pages ahead, M pages behind, and the successor book's opening pages
near the end), preloads the whole batch concurrently, then asks the page cache
to evict whatever fell out of its window.

# Spreads

[IsSpreadStart] is the single source of truth for the double-page rule. The
session uses it to decide which URLs to return together, the scheduler uses it
to decide what to prefetch, so the two can never disagree.
*/
package prefetch

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/yomira-reader/internal/reader/pagecache"
)

// # Options

// Options are the reader's prefetch preferences.
type Options struct {
	Ahead          int  `json:"ahead"`
	Behind         int  `json:"behind"`
	DoublePage     bool `json:"double_page"`
	NarrowViewport bool `json:"narrow_viewport"`
}

// DefaultOptions looks four pages ahead and two behind in single-page mode.
func DefaultOptions() Options {
	return Options{Ahead: 4, Behind: 2}
}

/*
IsSpreadStart reports whether page may be the left member of a spread.

Description: True only when double-page mode is on, the viewport is not narrow,
and the page is neither the first nor the last page of the book.
*/
func IsSpreadStart(page, total int, opts Options) bool {
	if !opts.DoublePage || opts.NarrowViewport {
		return false
	}
	return page > 1 && page < total
}

// PairedPage returns the right member of the spread starting at page, if any.
func PairedPage(page, total int, opts Options) (int, bool) {
	if !IsSpreadStart(page, total, opts) {
		return 0, false
	}
	return page + 1, true
}

// # Book Target

// Book describes the book being read and its successor.
type Book struct {
	ID         string
	PagesCount int

	// NextID is empty when the book has no successor.
	NextID         string
	NextPagesCount int
}

// # Scheduler

// Cache is the part of the page cache the scheduler drives.
type Cache interface {
	Preload(ctx context.Context, key pagecache.Key)
	Evict(current int) []int
}

// Scheduler plans and runs prefetch batches for one book.
type Scheduler struct {
	cache  Cache
	book   Book
	logger *slog.Logger

	mu   sync.RWMutex
	opts Options
}

// NewScheduler constructs a [Scheduler] for book.
func NewScheduler(cache Cache, book Book, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cache: cache, book: book, opts: opts, logger: logger}
}

// Options returns the current preferences.
func (scheduler *Scheduler) Options() Options {
	scheduler.mu.RLock()
	defer scheduler.mu.RUnlock()
	return scheduler.opts
}

// SetOptions replaces the preferences; the next navigation uses them.
func (scheduler *Scheduler) SetOptions(opts Options) {
	scheduler.mu.Lock()
	scheduler.opts = opts
	scheduler.mu.Unlock()
}

// Book returns the book this scheduler serves.
func (scheduler *Scheduler) Book() Book {
	return scheduler.book
}

// Key builds the current-book cache key for page.
func (scheduler *Scheduler) Key(page int) pagecache.Key {
	return pagecache.Key{Book: scheduler.book.ID, Page: page}
}

/*
Plan lists the keys to preload when the cursor lands on current.

Description: Order is current, paired page, forward pages, backward pages, all
clipped to [1, PagesCount] without duplicates. When the remaining page count is
at most Ahead and a successor exists, the successor's first Ahead pages follow
under the "next-" namespace.

Returns:
  - []pagecache.Key: The batch, in priority order
*/
func (scheduler *Scheduler) Plan(current int) []pagecache.Key {
	opts := scheduler.Options()
	total := scheduler.book.PagesCount

	seen := make(map[int]struct{})
	keys := make([]pagecache.Key, 0, 2+opts.Ahead+opts.Behind)

	add := func(page int) {
		if page < 1 || page > total {
			return
		}
		if _, dup := seen[page]; dup {
			return
		}
		seen[page] = struct{}{}
		keys = append(keys, scheduler.Key(page))
	}

	add(current)
	if paired, ok := PairedPage(current, total, opts); ok {
		add(paired)
	}
	for step := 1; step <= opts.Ahead; step++ {
		add(current + step)
	}
	for step := 1; step <= opts.Behind; step++ {
		add(current - step)
	}

	return append(keys, scheduler.successorKeys(current, opts)...)
}

// Range lists the current-book keys for [from, to], clipped to the book.
func (scheduler *Scheduler) Range(from, to int) []pagecache.Key {
	if from < 1 {
		from = 1
	}
	if to > scheduler.book.PagesCount {
		to = scheduler.book.PagesCount
	}

	var keys []pagecache.Key
	for page := from; page <= to; page++ {
		keys = append(keys, scheduler.Key(page))
	}
	return keys
}

// Run preloads every key concurrently and waits for all of them.
func (scheduler *Scheduler) Run(ctx context.Context, keys []pagecache.Key) {
	var group errgroup.Group
	for _, key := range keys {
		group.Go(func() error {
			scheduler.cache.Preload(ctx, key)
			return nil
		})
	}
	_ = group.Wait()
}

/*
Navigate runs the full batch for current and then evicts around it.

Returns:
  - []int: Pages evicted from the cache
*/
func (scheduler *Scheduler) Navigate(ctx context.Context, current int) []int {
	keys := scheduler.Plan(current)
	scheduler.Run(ctx, keys)

	evicted := scheduler.cache.Evict(current)

	scheduler.logger.DebugContext(ctx, "prefetch_batch_completed",
		slog.String("book_id", scheduler.book.ID),
		slog.Int("current_page", current),
		slog.Int("planned", len(keys)),
		slog.Int("evicted", len(evicted)),
	)
	return evicted
}

// # Internal Helpers

func (scheduler *Scheduler) successorKeys(current int, opts Options) []pagecache.Key {
	next := scheduler.book.NextID
	if next == "" || opts.Ahead <= 0 {
		return nil
	}
	if scheduler.book.PagesCount-current > opts.Ahead {
		return nil
	}

	count := opts.Ahead
	if scheduler.book.NextPagesCount > 0 && scheduler.book.NextPagesCount < count {
		count = scheduler.book.NextPagesCount
	}

	keys := make([]pagecache.Key, 0, count)
	for page := 1; page <= count; page++ {
		keys = append(keys, pagecache.Key{Book: next, Page: page, Next: true})
	}
	return keys
}
