// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package progress forwards reading-position updates to the library, debounced.

Rapid page turns collapse into a single PATCH carrying the latest position.
Sends are fire-and-forget: failures are logged and dropped, the next
navigation produces a fresh record anyway.
*/
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the debounce interval applied when none is configured.
const DefaultDelay = 500 * time.Millisecond

// sendTimeout bounds a single background send.
const sendTimeout = 10 * time.Second

// Record is one reading-position update.
type Record struct {
	BookID    string `json:"-"`
	Page      int    `json:"page"`
	Completed bool   `json:"completed"`
}

// Sender delivers a record to the library.
type Sender interface {
	SendProgress(ctx context.Context, record Record) error
}

// Syncer debounces records for one reading session.
type Syncer struct {
	sender Sender
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending *Record
	timer   *time.Timer
	closed  bool
}

// NewSyncer constructs a [Syncer]. A non-positive delay selects [DefaultDelay].
func NewSyncer(sender Sender, delay time.Duration, logger *slog.Logger) *Syncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{sender: sender, delay: delay, logger: logger}
}

// Record schedules record to be sent once no newer record arrives for the delay.
func (syncer *Syncer) Record(record Record) {
	syncer.mu.Lock()
	defer syncer.mu.Unlock()

	if syncer.closed {
		return
	}

	syncer.pending = &record
	if syncer.timer != nil {
		syncer.timer.Stop()
	}
	syncer.timer = time.AfterFunc(syncer.delay, syncer.fire)
}

// Pending returns the record waiting for its debounce to elapse.
func (syncer *Syncer) Pending() (Record, bool) {
	syncer.mu.Lock()
	defer syncer.mu.Unlock()

	if syncer.pending == nil {
		return Record{}, false
	}
	return *syncer.pending, true
}

/*
Flush sends the pending record now instead of waiting for the debounce.

Returns:
  - error: The delivery error; nil when nothing was pending
*/
func (syncer *Syncer) Flush(ctx context.Context) error {
	record, ok := syncer.take(false)
	return syncer.send(ctx, record, ok)
}

// Close stops accepting records, then flushes the pending one.
func (syncer *Syncer) Close(ctx context.Context) error {
	record, ok := syncer.take(true)
	return syncer.send(ctx, record, ok)
}

// # Internal Helpers

func (syncer *Syncer) send(ctx context.Context, record Record, ok bool) error {
	if !ok {
		return nil
	}
	return syncer.sender.SendProgress(ctx, record)
}

// take removes the pending record. closing also marks the syncer closed under the same lock.
func (syncer *Syncer) take(closing bool) (Record, bool) {
	syncer.mu.Lock()
	defer syncer.mu.Unlock()

	if closing {
		syncer.closed = true
	}

	if syncer.timer != nil {
		syncer.timer.Stop()
		syncer.timer = nil
	}
	if syncer.pending == nil {
		return Record{}, false
	}

	record := *syncer.pending
	syncer.pending = nil
	return record, true
}

func (syncer *Syncer) fire() {
	record, ok := syncer.take(false)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := syncer.sender.SendProgress(ctx, record); err != nil {
		syncer.logger.Warn("progress_sync_failed",
			slog.String("book_id", record.BookID),
			slog.Int("page", record.Page),
			slog.Any("error", err),
		)
	}
}
