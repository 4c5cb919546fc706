// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package offline

import (
	"context"
	"sort"
	"sync"

	"github.com/taibuivan/yomira-reader/internal/platform/constants"
)

// # Store Interface

// StatusStore persists one [Status] per book.
type StatusStore interface {
	// Get returns the record of bookID. A missing record is (nil, false, nil).
	Get(ctx context.Context, bookID string) (*Status, bool, error)

	// Put creates or replaces the record of status.BookID.
	Put(ctx context.Context, status *Status) error

	// Delete removes the record of bookID. Deleting a missing record is not an error.
	Delete(ctx context.Context, bookID string) error

	// List returns every stored record.
	List(ctx context.Context) ([]*Status, error)
}

// StatusKey is the persisted key of a book record ("book-status-{bookId}").
func StatusKey(bookID string) string {
	return constants.BookStatusKeyPrefix + bookID
}

// # Memory Store

type memoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemoryStore returns a [StatusStore] kept in process memory.
func NewMemoryStore() StatusStore {
	return &memoryStore{records: make(map[string][]byte)}
}

func (store *memoryStore) Get(_ context.Context, bookID string) (*Status, bool, error) {
	store.mu.Lock()
	raw, ok := store.records[StatusKey(bookID)]
	store.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	status, err := DecodeStatus(raw)
	if err != nil {
		return nil, false, err
	}
	return status, true, nil
}

func (store *memoryStore) Put(_ context.Context, status *Status) error {
	raw, err := EncodeStatus(status)
	if err != nil {
		return err
	}

	store.mu.Lock()
	store.records[StatusKey(status.BookID)] = raw
	store.mu.Unlock()
	return nil
}

func (store *memoryStore) Delete(_ context.Context, bookID string) error {
	store.mu.Lock()
	delete(store.records, StatusKey(bookID))
	store.mu.Unlock()
	return nil
}

func (store *memoryStore) List(_ context.Context) ([]*Status, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	statuses := make([]*Status, 0, len(store.records))
	for _, raw := range store.records {
		status, err := DecodeStatus(raw)
		if err != nil {
			continue
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].BookID < statuses[j].BookID })
	return statuses, nil
}
