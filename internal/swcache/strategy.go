// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/taibuivan/yomira-reader/internal/platform/constants"
)

// # Cache-First (images)

/*
cacheFirst serves an image from the image cache, falling back to the network.

Description: A fresh 200 is stored and returned. A 404 becomes an empty
synthetic 404; any other status or a network error becomes a synthetic 503.
A request carrying "Cache-Control: no-cache" skips the lookup and refreshes
the stored copy.
*/
func (worker *Worker) cacheFirst(request *http.Request) *http.Response {
	ctx := request.Context()
	key := request.URL.String()
	cacheName := worker.ImageCache()

	bypass := strings.Contains(request.Header.Get(constants.HeaderCacheControl), "no-cache")
	if !bypass {
		entry, ok, err := worker.storage.Match(ctx, cacheName, key)
		if err != nil {
			worker.logger.WarnContext(ctx, "cache_match_failed", slog.String(constants.FieldURL, key), slog.Any("error", err))
		}
		if ok {
			return entryResponse(request, entry, CacheHit)
		}
	}

	response, err := worker.network.RoundTrip(request)
	if err != nil {
		worker.logger.WarnContext(ctx, "image_fetch_failed", slog.String(constants.FieldURL, key), slog.Any("error", err))
		return syntheticUnavailable(request)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		entry, err := readEntry(key, response)
		if err != nil {
			worker.logger.WarnContext(ctx, "image_read_failed", slog.String(constants.FieldURL, key), slog.Any("error", err))
			return syntheticUnavailable(request)
		}
		if err := worker.storage.Put(ctx, cacheName, entry); err != nil {
			worker.logger.WarnContext(ctx, "cache_put_failed", slog.String(constants.FieldURL, key), slog.Any("error", err))
		}

		status := CacheMiss
		if bypass {
			status = CacheBypass
		}
		return entryResponse(request, entry, status)

	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, response.Body)
		return syntheticNotFound(request)

	default:
		_, _ = io.Copy(io.Discard, response.Body)
		worker.logger.WarnContext(ctx, "image_fetch_rejected",
			slog.String(constants.FieldURL, key),
			slog.Int(constants.FieldStatus, response.StatusCode),
		)
		return syntheticUnavailable(request)
	}
}

// # Network-First (versioned assets, navigations, API)

/*
networkFirst prefers the live network answer.

Description: A 200 for a versioned asset replaces every cached variant of the
same base URL before being stored. When the network is unreachable the
request falls back to the cache, then to the offline page for navigations,
then to a JSON 503 for API-shaped requests.
*/
func (worker *Worker) networkFirst(request *http.Request, class Class) *http.Response {
	ctx := request.Context()
	key := request.URL.String()

	response, err := worker.network.RoundTrip(request)
	if err == nil {
		if class != ClassVersioned || response.StatusCode != http.StatusOK {
			return response
		}
		return worker.storeVersioned(request, response)
	}

	worker.logger.WarnContext(ctx, "network_unreachable",
		slog.String(constants.FieldURL, key),
		slog.String("class", class.String()),
		slog.Any("error", err),
	)

	if entry, ok, matchErr := worker.MatchAny(ctx, key); matchErr == nil && ok {
		return entryResponse(request, entry, CacheFallback)
	}

	if class == ClassNavigation && worker.manifest.OfflinePage != "" {
		offline := worker.Resolve(worker.manifest.OfflinePage)
		if entry, ok, matchErr := worker.storage.Match(ctx, worker.ShellCache(), offline); matchErr == nil && ok {
			return entryResponse(request, entry, CacheFallback)
		}
	}

	if class == ClassAPI || strings.Contains(request.Header.Get(constants.HeaderAccept), "application/json") {
		return syntheticOfflineJSON(request)
	}
	return syntheticUnavailable(request)
}

// storeVersioned keeps exactly one cached version of a versioned asset.
func (worker *Worker) storeVersioned(request *http.Request, response *http.Response) *http.Response {
	ctx := request.Context()
	key := request.URL.String()
	defer response.Body.Close()

	entry, err := readEntry(key, response)
	if err != nil {
		worker.logger.WarnContext(ctx, "asset_read_failed", slog.String(constants.FieldURL, key), slog.Any("error", err))
		return syntheticUnavailable(request)
	}

	cacheName := worker.ShellCache()
	if err := removeVariants(ctx, worker.storage, cacheName, request.URL); err != nil {
		worker.logger.WarnContext(ctx, "asset_variants_cleanup_failed", slog.String(constants.FieldURL, key), slog.Any("error", err))
	}
	if err := worker.storage.Put(ctx, cacheName, entry); err != nil {
		worker.logger.WarnContext(ctx, "cache_put_failed", slog.String(constants.FieldURL, key), slog.Any("error", err))
	}

	return entryResponse(request, entry, CacheMiss)
}
