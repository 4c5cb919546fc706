// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pagecache

import "errors"

// ErrClosed is returned by operations on a closed [Cache].
var ErrClosed = errors.New("pagecache: cache is closed")

// # Invalidation

// ScopeKind selects what [Cache.Invalidate] drops.
type ScopeKind string

const (
	// ScopeKindPage drops a single current-book page.
	ScopeKindPage ScopeKind = "page"
	// ScopeKindBook drops every current-book page.
	ScopeKindBook ScopeKind = "book"
	// ScopeKindAll drops everything, successor-book pages included.
	ScopeKindAll ScopeKind = "all"
)

// Scope is an invalidation target.
type Scope struct {
	Kind ScopeKind
	Page int
}

// ScopePage targets one current-book page.
func ScopePage(page int) Scope { return Scope{Kind: ScopeKindPage, Page: page} }

// ScopeBook targets the current book.
func ScopeBook() Scope { return Scope{Kind: ScopeKindBook} }

// ScopeAll targets the whole cache.
func ScopeAll() Scope { return Scope{Kind: ScopeKindAll} }

func (scope Scope) matches(entry *Entry) bool {
	switch scope.Kind {
	case ScopeKindPage:
		return !entry.next && entry.PageNumber == scope.Page
	case ScopeKindBook:
		return !entry.next
	case ScopeKindAll:
		return true
	default:
		return false
	}
}

/*
Invalidate drops the entries selected by scope and revokes their URLs.

Description: In-flight fetches for a dropped slot complete but their result is
discarded; the next preload fetches again.

Returns:
  - int: Number of dropped entries
*/
func (cache *Cache) Invalidate(scope Scope) int {
	cache.mu.Lock()

	var urls []string
	dropped := 0
	for slot, entry := range cache.entries {
		if !scope.matches(entry) {
			continue
		}
		if entry.URL != "" {
			urls = append(urls, entry.URL)
		}
		delete(cache.entries, slot)
		cache.flights.Forget(slot)
		dropped++
	}
	cache.mu.Unlock()

	for _, url := range urls {
		cache.blobs.Revoke(url)
	}
	return dropped
}
