// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/taibuivan/yomira-reader/internal/platform/constants"
)

// HeaderCacheStatus tells clients where a response came from.
const HeaderCacheStatus = "X-Yomira-Cache"

// Cache status values.
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheBypass    = "bypass"
	CacheFallback  = "fallback"
	CacheSynthetic = "synthetic"
)

// offlineJSON is the body of the synthetic API answer while the library is unreachable.
const offlineJSON = `{"error":"The library server is unreachable","code":"OFFLINE"}`

// # Response Builders

// newResponse wraps bytes into a response for request.
func newResponse(request *http.Request, status int, header http.Header, body []byte, cacheStatus string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set(constants.HeaderContentLength, strconv.Itoa(len(body)))
	header.Set(HeaderCacheStatus, cacheStatus)

	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       request,
	}
}

// entryResponse replays a stored entry.
func entryResponse(request *http.Request, entry *Entry, cacheStatus string) *http.Response {
	return newResponse(request, entry.Status, entry.Header.Clone(), entry.Body, cacheStatus)
}

// syntheticNotFound is an empty 404 that renders as a missing image, not an error.
func syntheticNotFound(request *http.Request) *http.Response {
	return newResponse(request, http.StatusNotFound, nil, nil, CacheSynthetic)
}

// syntheticUnavailable is an empty 503.
func syntheticUnavailable(request *http.Request) *http.Response {
	return newResponse(request, http.StatusServiceUnavailable, nil, nil, CacheSynthetic)
}

// syntheticOfflineJSON is a JSON 503 for API-shaped requests.
func syntheticOfflineJSON(request *http.Request) *http.Response {
	header := http.Header{}
	header.Set(constants.HeaderContentType, "application/json; charset=utf-8")
	return newResponse(request, http.StatusServiceUnavailable, header, []byte(offlineJSON), CacheSynthetic)
}
