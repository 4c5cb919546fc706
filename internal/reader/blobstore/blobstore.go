// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package blobstore hands out stable URLs for in-memory page bytes.

It plays the role an object-URL registry plays in a browser: the page cache
deposits fetched image bytes here and receives a URL the reading client can
render directly. The URL stays valid until it is explicitly revoked; nothing
in this package expires entries on its own.

URLs have the shape "{base}/blobs/{uuidv7}" and are served by [Store.ServeHTTP].
*/
package blobstore

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/taibuivan/yomira-reader/pkg/uuid"
)

// PathPrefix is the route prefix under which blobs are served.
const PathPrefix = "/blobs/"

// # Blob Registry

// Blob is an immutable byte payload registered under a URL.
type Blob struct {
	ID          string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Store is a concurrency-safe registry of blobs.
type Store struct {
	mu    sync.RWMutex
	base  string
	blobs map[string]*Blob
}

// New constructs a [Store] whose URLs are rooted at base (e.g. "https://reader.example").
func New(base string) *Store {
	return &Store{
		base:  strings.TrimRight(base, "/"),
		blobs: make(map[string]*Blob),
	}
}

// Create registers data and returns its URL.
//
// The data slice is owned by the store afterwards and must not be mutated.
func (store *Store) Create(data []byte, contentType string) string {
	blob := &Blob{
		ID:          uuid.New(),
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now(),
	}

	store.mu.Lock()
	store.blobs[blob.ID] = blob
	store.mu.Unlock()

	return store.base + PathPrefix + blob.ID
}

// Revoke releases the blob behind url. It reports whether something was released;
// revoking an unknown or already revoked URL is a no-op.
func (store *Store) Revoke(url string) bool {
	id, ok := store.idOf(url)
	if !ok {
		return false
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if _, found := store.blobs[id]; !found {
		return false
	}
	delete(store.blobs, id)
	return true
}

// Lookup returns the blob behind url while it is still registered.
func (store *Store) Lookup(url string) (*Blob, bool) {
	id, ok := store.idOf(url)
	if !ok {
		return nil, false
	}
	return store.get(id)
}

// Len returns the number of live blobs.
func (store *Store) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.blobs)
}

// # HTTP Delivery

// ServeHTTP serves GET {PathPrefix}{id}. Revoked blobs answer 404.
func (store *Store) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	id := strings.TrimPrefix(request.URL.Path, PathPrefix)

	blob, ok := store.get(id)
	if !ok {
		http.NotFound(writer, request)
		return
	}

	header := writer.Header()
	if blob.ContentType != "" {
		header.Set("Content-Type", blob.ContentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(blob.Data)))

	// The bytes behind an id never change; only revocation ends them.
	header.Set("Cache-Control", "private, max-age=31536000, immutable")

	writer.WriteHeader(http.StatusOK)
	if request.Method != http.MethodHead {
		_, _ = writer.Write(blob.Data)
	}
}

// # Internal Helpers

func (store *Store) get(id string) (*Blob, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	blob, ok := store.blobs[id]
	return blob, ok
}

// idOf extracts the blob id from a URL issued by this store (absolute or path-only).
func (store *Store) idOf(url string) (string, bool) {
	index := strings.LastIndex(url, PathPrefix)
	if index < 0 {
		return "", false
	}

	id := url[index+len(PathPrefix):]
	if !uuid.Valid(id) {
		return "", false
	}
	return id, true
}
