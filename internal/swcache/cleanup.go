// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"context"
	"fmt"
	"net/url"
	"sort"
)

// # Duplicate Cleanup

/*
CleanupDuplicates keeps at most one entry per base URL in the named cache.

Description: Keys are grouped by origin plus path. Inside every group with
more than one key, keys are ordered by their numeric "v" query parameter,
highest first (missing or non-numeric counts as 0), and all but the first are
removed. Ties keep the earliest stored key.

Returns:
  - int: Number of removed entries
  - error: Storage failure; entries removed before the failure stay removed
*/
func CleanupDuplicates(ctx context.Context, storage Storage, cacheName string) (int, error) {
	keys, err := storage.Keys(ctx, cacheName)
	if err != nil {
		return 0, fmt.Errorf("swcache: list keys of %s: %w", cacheName, err)
	}

	groups := make(map[string][]string)
	var order []string
	for _, key := range keys {
		target, err := url.Parse(key)
		if err != nil {
			continue
		}
		base := BaseURL(target)
		if _, seen := groups[base]; !seen {
			order = append(order, base)
		}
		groups[base] = append(groups[base], key)
	}

	removed := 0
	for _, base := range order {
		group := groups[base]
		if len(group) < 2 {
			continue
		}

		sort.SliceStable(group, func(i, j int) bool {
			return versionOf(group[i]) > versionOf(group[j])
		})

		for _, stale := range group[1:] {
			ok, err := storage.Remove(ctx, cacheName, stale)
			if err != nil {
				return removed, fmt.Errorf("swcache: remove %s: %w", stale, err)
			}
			if ok {
				removed++
			}
		}
	}
	return removed, nil
}

// removeVariants deletes every key of cacheName sharing target's base URL.
func removeVariants(ctx context.Context, storage Storage, cacheName string, target *url.URL) error {
	keys, err := storage.Keys(ctx, cacheName)
	if err != nil {
		return fmt.Errorf("swcache: list keys of %s: %w", cacheName, err)
	}

	base := BaseURL(target)
	for _, key := range keys {
		candidate, err := url.Parse(key)
		if err != nil || BaseURL(candidate) != base {
			continue
		}
		if _, err := storage.Remove(ctx, cacheName, key); err != nil {
			return fmt.Errorf("swcache: remove variant %s: %w", key, err)
		}
	}
	return nil
}
