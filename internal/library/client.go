// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package library talks to the remote library server.

The library owns the books: it serves page images at GET /pages/{book}/{n}
and accepts reading-position updates at PATCH /books/{id}/read-progress. Book
metadata (page counts, successor chapter) is read straight from the library's
PostgreSQL catalogue.

# Transport

[Client] takes its [http.RoundTripper] from the caller. The gateway passes the
persistent cache worker, so every page fetched for a reading session goes
through the same cache-first strategy a browser service worker would apply.
*/
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/taibuivan/yomira-reader/internal/platform/constants"
	"github.com/taibuivan/yomira-reader/internal/reader/pagecache"
	"github.com/taibuivan/yomira-reader/internal/reader/progress"
)

// maxPageBytes caps a single page body.
const maxPageBytes = 64 << 20

// StatusError reports a non-success answer from the library.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("library: %s answered %d", e.URL, e.StatusCode)
}

// Page is a fetched page image.
type Page struct {
	URL         string
	ContentType string
	Data        []byte
}

// # Client

// Client is the HTTP client for the library server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient constructs a [Client]. A nil transport selects [http.DefaultTransport].
func NewClient(baseURL string, transport http.RoundTripper, logger *slog.Logger) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport},
		logger:  logger,
	}
}

// BaseURL returns the library root.
func (client *Client) BaseURL() string {
	return client.baseURL
}

// PageURL returns the canonical URL of a page image.
func (client *Client) PageURL(bookID string, page int) string {
	return client.baseURL + "/pages/" + bookID + "/" + strconv.Itoa(page)
}

/*
FetchPage downloads a page image.

Parameters:
  - ctx: context.Context
  - bookID: string
  - page: int (1-based)
  - bypass: bool (ask every cache on the way to revalidate)

Returns:
  - *Page: The image bytes and content type
  - error: *StatusError for a non-200 answer, or the transport error
*/
func (client *Client) FetchPage(ctx context.Context, bookID string, page int, bypass bool) (*Page, error) {
	url := client.PageURL(bookID, page)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("library: build page request: %w", err)
	}
	request.Header.Set(constants.HeaderAccept, "image/*")
	if bypass {
		request.Header.Set(constants.HeaderCacheControl, "no-cache")
	}

	response, err := client.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("library: fetch page: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil, &StatusError{URL: url, StatusCode: response.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("library: read page body: %w", err)
	}

	return &Page{
		URL:         url,
		ContentType: response.Header.Get(constants.HeaderContentType),
		Data:        data,
	}, nil
}

// # Page Cache Loader

// Load implements [pagecache.Loader].
func (client *Client) Load(ctx context.Context, key pagecache.Key, bypass bool) (*pagecache.Resource, error) {
	page, err := client.FetchPage(ctx, key.Book, key.Page, bypass)
	if err != nil {
		return nil, err
	}
	return &pagecache.Resource{Data: page.Data, ContentType: page.ContentType}, nil
}

// PassthroughURL implements [pagecache.Loader].
func (client *Client) PassthroughURL(key pagecache.Key) string {
	return client.PageURL(key.Book, key.Page)
}

// # Progress Sync

/*
SendProgress implements [progress.Sender].

Description: PATCH /books/{id}/read-progress with {page, completed}.
*/
func (client *Client) SendProgress(ctx context.Context, record progress.Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("library: encode progress: %w", err)
	}

	url := client.baseURL + "/books/" + record.BookID + "/read-progress"
	request, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("library: build progress request: %w", err)
	}
	request.Header.Set(constants.HeaderContentType, "application/json")

	response, err := client.http.Do(request)
	if err != nil {
		return fmt.Errorf("library: send progress: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &StatusError{URL: url, StatusCode: response.StatusCode}
	}

	client.logger.DebugContext(ctx, "progress_synced",
		slog.String("book_id", record.BookID),
		slog.Int("page", record.Page),
		slog.Bool("completed", record.Completed),
	)
	return nil
}
