// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-reader/internal/swcache"
)

/*
TestCleanupDuplicates_KeepsHighestVersion collapses v=1,2,3 into v=3.
*/
func TestCleanupDuplicates_KeepsHighestVersion(t *testing.T) {
	ctx := context.Background()
	storage := swcache.NewMemoryStorage()
	const cache = "yomira-shell-v1"

	// Stored out of order on purpose
	for _, key := range []string{
		"https://lib.example/assets/app.js?v=2",
		"https://lib.example/assets/app.js?v=3",
		"https://lib.example/assets/app.js?v=1",
		"https://lib.example/assets/app.css?v=9",
	} {
		require.NoError(t, storage.Put(ctx, cache, entry(key, key)))
	}

	removed, err := swcache.CleanupDuplicates(ctx, storage, cache)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := storage.Keys(ctx, cache)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"https://lib.example/assets/app.js?v=3",
		"https://lib.example/assets/app.css?v=9",
	}, keys)

	// Running again is a no-op
	removed, err = swcache.CleanupDuplicates(ctx, storage, cache)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

/*
TestCleanupDuplicates_MissingVersion treats missing or non-numeric versions as 0.
*/
func TestCleanupDuplicates_MissingVersion(t *testing.T) {
	ctx := context.Background()
	storage := swcache.NewMemoryStorage()
	const cache = "yomira-shell-v1"

	for _, key := range []string{
		"https://lib.example/index.html",
		"https://lib.example/index.html?v=beta",
		"https://lib.example/index.html?v=1",
		"https://other.example/index.html",
	} {
		require.NoError(t, storage.Put(ctx, cache, entry(key, key)))
	}

	removed, err := swcache.CleanupDuplicates(ctx, storage, cache)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := storage.Keys(ctx, cache)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"https://lib.example/index.html?v=1",
		"https://other.example/index.html",
	}, keys)
}
