// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package progress_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-reader/internal/reader/progress"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []progress.Record
	err  error

	// gate, when set, holds every send until it is closed.
	gate    chan struct{}
	started chan struct{}
}

func (sender *fakeSender) SendProgress(_ context.Context, record progress.Record) error {
	if sender.gate != nil {
		sender.started <- struct{}{}
		<-sender.gate
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	sender.sent = append(sender.sent, record)
	return sender.err
}

func (sender *fakeSender) records() []progress.Record {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	return append([]progress.Record(nil), sender.sent...)
}

/*
TestSyncer_Debounce collapses rapid updates into the latest one.
*/
func TestSyncer_Debounce(t *testing.T) {
	sender := &fakeSender{}
	syncer := progress.NewSyncer(sender, 20*time.Millisecond, nil)

	for page := 1; page <= 5; page++ {
		syncer.Record(progress.Record{BookID: "book-1", Page: page})
	}

	require.Eventually(t, func() bool { return len(sender.records()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, sender.records()[0].Page)

	// Nothing else goes out afterwards
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sender.records(), 1)
}

/*
TestSyncer_Flush sends the pending record immediately.
*/
func TestSyncer_Flush(t *testing.T) {
	sender := &fakeSender{}
	syncer := progress.NewSyncer(sender, time.Hour, nil)

	syncer.Record(progress.Record{BookID: "book-1", Page: 12, Completed: true})

	pending, ok := syncer.Pending()
	require.True(t, ok)
	assert.Equal(t, 12, pending.Page)

	require.NoError(t, syncer.Flush(context.Background()))
	require.Len(t, sender.records(), 1)
	assert.True(t, sender.records()[0].Completed)

	// A second flush has nothing to send
	require.NoError(t, syncer.Flush(context.Background()))
	assert.Len(t, sender.records(), 1)
}

/*
TestSyncer_Close flushes, surfaces the error and ignores later records.
*/
func TestSyncer_Close(t *testing.T) {
	sender := &fakeSender{err: errors.New("library down")}
	syncer := progress.NewSyncer(sender, time.Hour, nil)

	syncer.Record(progress.Record{BookID: "book-1", Page: 3})
	assert.Error(t, syncer.Close(context.Background()))

	syncer.Record(progress.Record{BookID: "book-1", Page: 4})
	_, ok := syncer.Pending()
	assert.False(t, ok)
}

/*
TestSyncer_Close_RecordDuringFlush ignores a record that arrives while the
closing flush is still on the wire.
*/
func TestSyncer_Close_RecordDuringFlush(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	syncer := progress.NewSyncer(sender, time.Hour, nil)

	syncer.Record(progress.Record{BookID: "book-1", Page: 3})

	// 1. Close starts flushing page 3 and blocks in the sender
	closed := make(chan error, 1)
	go func() { closed <- syncer.Close(context.Background()) }()
	<-sender.started

	// 2. A late record is dropped instead of arming a new timer
	syncer.Record(progress.Record{BookID: "book-1", Page: 4})
	_, ok := syncer.Pending()
	assert.False(t, ok)

	close(sender.gate)
	require.NoError(t, <-closed)

	// 3. Only the flushed record went out, and nothing is left to send
	require.Len(t, sender.records(), 1)
	assert.Equal(t, 3, sender.records()[0].Page)
	require.NoError(t, syncer.Flush(context.Background()))
	assert.Len(t, sender.records(), 1)
}
