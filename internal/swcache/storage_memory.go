// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"context"
	"slices"
	"sync"
	"time"
)

// memoryCache is one named cache held in memory.
type memoryCache struct {
	order   []string
	entries map[string]*Entry
}

// memoryStorage implements [Storage] in process memory.
type memoryStorage struct {
	mu     sync.RWMutex
	names  []string
	caches map[string]*memoryCache
}

// NewMemoryStorage returns an empty in-memory [Storage]. Nothing survives a restart.
func NewMemoryStorage() Storage {
	return &memoryStorage{caches: make(map[string]*memoryCache)}
}

func (storage *memoryStorage) Open(_ context.Context, name string) error {
	storage.mu.Lock()
	defer storage.mu.Unlock()
	storage.open(name)
	return nil
}

func (storage *memoryStorage) Has(_ context.Context, name string) (bool, error) {
	storage.mu.RLock()
	defer storage.mu.RUnlock()
	_, ok := storage.caches[name]
	return ok, nil
}

func (storage *memoryStorage) Delete(_ context.Context, name string) (bool, error) {
	storage.mu.Lock()
	defer storage.mu.Unlock()

	if _, ok := storage.caches[name]; !ok {
		return false, nil
	}
	delete(storage.caches, name)
	storage.names = slices.DeleteFunc(storage.names, func(candidate string) bool { return candidate == name })
	return true, nil
}

func (storage *memoryStorage) Names(_ context.Context) ([]string, error) {
	storage.mu.RLock()
	defer storage.mu.RUnlock()
	return slices.Clone(storage.names), nil
}

func (storage *memoryStorage) Keys(_ context.Context, name string) ([]string, error) {
	storage.mu.RLock()
	defer storage.mu.RUnlock()

	cache, ok := storage.caches[name]
	if !ok {
		return nil, nil
	}
	return slices.Clone(cache.order), nil
}

func (storage *memoryStorage) Match(_ context.Context, name, url string) (*Entry, bool, error) {
	storage.mu.RLock()
	defer storage.mu.RUnlock()

	cache, ok := storage.caches[name]
	if !ok {
		return nil, false, nil
	}
	entry, ok := cache.entries[url]
	if !ok {
		return nil, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (storage *memoryStorage) Put(_ context.Context, name string, entry *Entry) error {
	storage.mu.Lock()
	defer storage.mu.Unlock()

	cache := storage.open(name)
	if _, exists := cache.entries[entry.URL]; exists {
		cache.order = slices.DeleteFunc(cache.order, func(url string) bool { return url == entry.URL })
	}

	stored := cloneEntry(entry)
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}
	cache.entries[entry.URL] = stored
	cache.order = append(cache.order, entry.URL)
	return nil
}

func (storage *memoryStorage) Remove(_ context.Context, name, url string) (bool, error) {
	storage.mu.Lock()
	defer storage.mu.Unlock()

	cache, ok := storage.caches[name]
	if !ok {
		return false, nil
	}
	if _, ok := cache.entries[url]; !ok {
		return false, nil
	}
	delete(cache.entries, url)
	cache.order = slices.DeleteFunc(cache.order, func(candidate string) bool { return candidate == url })
	return true, nil
}

func (storage *memoryStorage) Ping(context.Context) error { return nil }

func (storage *memoryStorage) Close() error { return nil }

// open returns the named cache, creating it. Callers hold the write lock.
func (storage *memoryStorage) open(name string) *memoryCache {
	cache, ok := storage.caches[name]
	if !ok {
		cache = &memoryCache{entries: make(map[string]*Entry)}
		storage.caches[name] = cache
		storage.names = append(storage.names, name)
	}
	return cache
}

func cloneEntry(entry *Entry) *Entry {
	clone := *entry
	clone.Header = entry.Header.Clone()
	clone.Body = slices.Clone(entry.Body)
	return &clone
}
