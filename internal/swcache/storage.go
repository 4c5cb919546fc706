// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrUnsupported is returned when the cache backend is missing or unusable.
var ErrUnsupported = errors.New("swcache: cache storage unavailable")

// # Cached Records

// Entry is one stored response, keyed by its full request URL.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// # Storage Contract

// Storage is a set of named caches, each an ordered map of URL to response.
//
// Implementations must be safe for concurrent use. Keys are returned in
// insertion order; storing an existing URL again moves it to the end.
type Storage interface {

	// Open creates the named cache if it does not exist yet.
	Open(ctx context.Context, name string) error

	// Has reports whether the named cache exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete drops the named cache and every entry in it.
	Delete(ctx context.Context, name string) (bool, error)

	// Names lists every cache, in creation order.
	Names(ctx context.Context) ([]string, error)

	// Keys lists the URLs stored in the named cache, in insertion order.
	Keys(ctx context.Context, name string) ([]string, error)

	/*
		Match looks up a stored response.

		Returns:
		  - *Entry: The stored response
		  - bool: false when the cache or the URL is unknown
		  - error: Backend failures only
	*/
	Match(ctx context.Context, name, url string) (*Entry, bool, error)

	// Put stores entry under its URL, opening the cache if needed.
	Put(ctx context.Context, name string, entry *Entry) error

	// Remove deletes one URL from the named cache.
	Remove(ctx context.Context, name, url string) (bool, error)

	// Ping verifies the backend is usable; failures wrap [ErrUnsupported].
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
