// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/yomira-reader/internal/platform/constants"
)

// scanBatch is the COUNT hint of each SCAN round trip.
const scanBatch = 100

type redisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore returns a [StatusStore] backed by Redis string keys.
func NewRedisStore(client *redis.Client, logger *slog.Logger) StatusStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisStore{client: client, logger: logger}
}

func (store *redisStore) Get(ctx context.Context, bookID string) (*Status, bool, error) {
	raw, err := store.client.Get(ctx, StatusKey(bookID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("offline: read status %s: %w", bookID, err)
	}

	status, err := DecodeStatus(raw)
	if err != nil {
		return nil, false, err
	}
	return status, true, nil
}

func (store *redisStore) Put(ctx context.Context, status *Status) error {
	raw, err := EncodeStatus(status)
	if err != nil {
		return err
	}
	if err := store.client.Set(ctx, StatusKey(status.BookID), raw, 0).Err(); err != nil {
		return fmt.Errorf("offline: write status %s: %w", status.BookID, err)
	}
	return nil
}

func (store *redisStore) Delete(ctx context.Context, bookID string) error {
	if err := store.client.Del(ctx, StatusKey(bookID)).Err(); err != nil {
		return fmt.Errorf("offline: delete status %s: %w", bookID, err)
	}
	return nil
}

func (store *redisStore) List(ctx context.Context) ([]*Status, error) {
	var statuses []*Status

	iterator := store.client.Scan(ctx, 0, constants.BookStatusKeyPrefix+"*", scanBatch).Iterator()
	for iterator.Next(ctx) {
		bookID := strings.TrimPrefix(iterator.Val(), constants.BookStatusKeyPrefix)

		status, ok, err := store.Get(ctx, bookID)
		if errors.Is(err, ErrCorruptStatus) {
			store.logger.WarnContext(ctx, "offline_status_corrupt", slog.String("book_id", bookID), slog.Any("error", err))
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok {
			statuses = append(statuses, status)
		}
	}
	if err := iterator.Err(); err != nil {
		return nil, fmt.Errorf("offline: scan statuses: %w", err)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].BookID < statuses[j].BookID })
	return statuses, nil
}
