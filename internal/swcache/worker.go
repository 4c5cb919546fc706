// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package swcache is the gateway's persistent HTTP cache.

It reproduces what a service worker does for a browser client: it intercepts
every outgoing request to the library, serves images cache-first, serves
versioned assets and navigations network-first, and never lets a network
failure escape as an error. Failures become synthetic 404/503 responses.

# Lifecycle

A [Worker] goes through install (pre-cache the shell manifest, open the image
cache) and activate (drop every cache of another version, collapse duplicate
entries). Until it is active it passes every request straight through.

# Storage

Caches live in a [Storage]: SQLite on disk in production, memory in tests.
Cache names carry the manifest version ("yomira-images-v7"), so a redeploy
with a new version starts from clean caches.
*/
package swcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/yomira-reader/internal/platform/constants"
)

const cachePrefix = constants.CachePrefix

// maxBodyBytes caps a response body the worker is willing to store.
const maxBodyBytes = 64 << 20

// ErrNotInstalled is returned by Activate before a successful Install.
var ErrNotInstalled = errors.New("swcache: worker is not installed")

// # Worker State

// State is the worker lifecycle stage.
type State int32

const (
	StateNew State = iota
	StateInstalled
	StateActive
)

func (state State) String() string {
	switch state {
	case StateInstalled:
		return "installed"
	case StateActive:
		return "active"
	default:
		return "new"
	}
}

// # Worker

// Worker intercepts requests to the library. It implements [http.RoundTripper].
type Worker struct {
	storage  Storage
	manifest *Manifest
	upstream *url.URL
	network  http.RoundTripper
	logger   *slog.Logger

	state atomic.Int32
}

/*
NewWorker constructs a [Worker].

Parameters:
  - storage: Storage (cache backend)
  - manifest: *Manifest (shell assets and cache version)
  - upstreamURL: string (library root; relative manifest assets resolve against it)
  - network: http.RoundTripper (nil selects http.DefaultTransport)
  - logger: *slog.Logger
*/
func NewWorker(storage Storage, manifest *Manifest, upstreamURL string, network http.RoundTripper, logger *slog.Logger) (*Worker, error) {
	upstream, err := url.Parse(strings.TrimRight(upstreamURL, "/"))
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("swcache: invalid upstream URL %q", upstreamURL)
	}
	if network == nil {
		network = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		storage:  storage,
		manifest: manifest,
		upstream: upstream,
		network:  network,
		logger:   logger,
	}, nil
}

// State returns the current lifecycle stage.
func (worker *Worker) State() State {
	return State(worker.state.Load())
}

// ShellCache returns the current shell cache name.
func (worker *Worker) ShellCache() string { return worker.manifest.ShellCache() }

// ImageCache returns the current image cache name.
func (worker *Worker) ImageCache() string { return worker.manifest.ImageCache() }

// Upstream returns the library root URL.
func (worker *Worker) Upstream() *url.URL {
	clone := *worker.upstream
	return &clone
}

// Resolve turns a manifest path ("/offline.html") into an absolute library URL.
func (worker *Worker) Resolve(path string) string {
	reference, err := url.Parse(path)
	if err != nil {
		return path
	}
	if reference.IsAbs() {
		return reference.String()
	}
	return worker.upstream.ResolveReference(reference).String()
}

/*
Install pre-caches the shell manifest and opens the image cache.

Description: All-or-nothing: every asset is fetched first, and nothing is
stored unless every fetch answered 200.
*/
func (worker *Worker) Install(ctx context.Context) error {
	if err := worker.storage.Ping(ctx); err != nil {
		return err
	}

	entries := make([]*Entry, 0, len(worker.manifest.Assets))
	for _, asset := range worker.manifest.Assets {
		entry, err := worker.fetchEntry(ctx, worker.Resolve(asset))
		if err != nil {
			worker.logger.ErrorContext(ctx, "worker_install_failed",
				slog.String("asset", asset),
				slog.Any("error", err),
			)
			return fmt.Errorf("swcache: install %s: %w", asset, err)
		}
		entries = append(entries, entry)
	}

	if err := worker.storage.Open(ctx, worker.ShellCache()); err != nil {
		return fmt.Errorf("swcache: open shell cache: %w", err)
	}
	for _, entry := range entries {
		if err := worker.storage.Put(ctx, worker.ShellCache(), entry); err != nil {
			return fmt.Errorf("swcache: store %s: %w", entry.URL, err)
		}
	}
	if err := worker.storage.Open(ctx, worker.ImageCache()); err != nil {
		return fmt.Errorf("swcache: open image cache: %w", err)
	}

	worker.state.Store(int32(StateInstalled))
	worker.logger.InfoContext(ctx, "worker_installed",
		slog.Int("version", worker.manifest.Version),
		slog.Int("assets", len(entries)),
	)
	return nil
}

/*
Activate removes every cache of another version and collapses duplicates in
the current ones. Both steps run concurrently; the worker becomes active only
after both succeed.
*/
func (worker *Worker) Activate(ctx context.Context) error {
	if worker.State() == StateNew {
		return ErrNotInstalled
	}

	current := map[string]bool{worker.ShellCache(): true, worker.ImageCache(): true}

	var dropped, collapsed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		names, err := worker.storage.Names(groupCtx)
		if err != nil {
			return fmt.Errorf("swcache: list caches: %w", err)
		}
		for _, name := range names {
			if current[name] {
				continue
			}
			if _, err := worker.storage.Delete(groupCtx, name); err != nil {
				return fmt.Errorf("swcache: delete cache %s: %w", name, err)
			}
			dropped.Add(1)
		}
		return nil
	})

	for name := range current {
		group.Go(func() error {
			removed, err := CleanupDuplicates(groupCtx, worker.storage, name)
			collapsed.Add(int64(removed))
			return err
		})
	}

	if err := group.Wait(); err != nil {
		worker.logger.ErrorContext(ctx, "worker_activate_failed", slog.Any("error", err))
		return err
	}

	worker.state.Store(int32(StateActive))
	worker.logger.InfoContext(ctx, "worker_activated",
		slog.Int("version", worker.manifest.Version),
		slog.Int64("caches_dropped", dropped.Load()),
		slog.Int64("duplicates_removed", collapsed.Load()),
	)
	return nil
}

// Start installs and activates the worker.
func (worker *Worker) Start(ctx context.Context) error {
	if err := worker.Install(ctx); err != nil {
		return err
	}
	return worker.Activate(ctx)
}

// # Fetch Interception

// RoundTrip implements [http.RoundTripper].
func (worker *Worker) RoundTrip(request *http.Request) (*http.Response, error) {
	if worker.State() != StateActive || request.Method != http.MethodGet {
		return worker.network.RoundTrip(request)
	}

	switch class := Classify(request); class {
	case ClassImage:
		return worker.cacheFirst(request), nil
	case ClassVersioned, ClassNavigation, ClassAPI:
		return worker.networkFirst(request, class), nil
	default:
		return worker.network.RoundTrip(request)
	}
}

// # Cache Helpers (offline downloads)

// MatchAny searches the current caches for url.
func (worker *Worker) MatchAny(ctx context.Context, url string) (*Entry, bool, error) {
	for _, name := range []string{worker.ImageCache(), worker.ShellCache()} {
		entry, ok, err := worker.storage.Match(ctx, name, url)
		if err != nil || ok {
			return entry, ok, err
		}
	}
	return nil, false, nil
}

// PutImage stores an entry in the current image cache.
func (worker *Worker) PutImage(ctx context.Context, entry *Entry) error {
	return worker.storage.Put(ctx, worker.ImageCache(), entry)
}

// RemoveImage deletes url from the current image cache.
func (worker *Worker) RemoveImage(ctx context.Context, url string) (bool, error) {
	return worker.storage.Remove(ctx, worker.ImageCache(), url)
}

// HasImage reports whether url is stored in the current image cache.
func (worker *Worker) HasImage(ctx context.Context, url string) (bool, error) {
	_, ok, err := worker.storage.Match(ctx, worker.ImageCache(), url)
	return ok, err
}

// Ping is the feature check run before any offline operation.
func (worker *Worker) Ping(ctx context.Context) error {
	return worker.storage.Ping(ctx)
}

// CleanupDuplicates runs the duplicate cleanup on one cache.
func (worker *Worker) CleanupDuplicates(ctx context.Context, cacheName string) (int, error) {
	return CleanupDuplicates(ctx, worker.storage, cacheName)
}

// # Internal Helpers

// fetchEntry GETs url from the network and requires a 200.
func (worker *Worker) fetchEntry(ctx context.Context, url string) (*Entry, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	response, err := worker.network.RoundTrip(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil, fmt.Errorf("unexpected status %d", response.StatusCode)
	}

	return readEntry(url, response)
}

// readEntry drains response into an [Entry].
func readEntry(url string, response *http.Response) (*Entry, error) {
	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	header := response.Header.Clone()
	header.Del(constants.HeaderContentLength)
	header.Del(HeaderCacheStatus)

	return &Entry{
		URL:    url,
		Status: response.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}
