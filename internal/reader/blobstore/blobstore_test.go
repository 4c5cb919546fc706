// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package blobstore_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-reader/internal/reader/blobstore"
)

/*
TestStore_CreateLookupRevoke walks a blob through its whole lifetime.
*/
func TestStore_CreateLookupRevoke(t *testing.T) {
	store := blobstore.New("https://reader.example/")

	// 1. Created URLs are rooted at the base
	url := store.Create([]byte("page-1"), "image/webp")
	assert.True(t, strings.HasPrefix(url, "https://reader.example/blobs/"))
	assert.Equal(t, 1, store.Len())

	// 2. The URL stays valid until revoked
	blob, ok := store.Lookup(url)
	require.True(t, ok)
	assert.Equal(t, []byte("page-1"), blob.Data)
	assert.Equal(t, "image/webp", blob.ContentType)

	// 3. Revocation is idempotent
	assert.True(t, store.Revoke(url))
	assert.False(t, store.Revoke(url))
	assert.False(t, store.Revoke("https://elsewhere.example/not-a-blob"))

	_, ok = store.Lookup(url)
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}

/*
TestStore_ServeHTTP serves live blobs and answers 404 once revoked.
*/
func TestStore_ServeHTTP(t *testing.T) {
	store := blobstore.New("")
	url := store.Create([]byte("jpeg-bytes"), "image/jpeg")

	// 1. Live blob
	recorder := httptest.NewRecorder()
	store.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, url, nil))

	response := recorder.Result()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "image/jpeg", response.Header.Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", string(body))

	// 2. Revoked blob
	store.Revoke(url)
	recorder = httptest.NewRecorder()
	store.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
