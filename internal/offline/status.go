// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package offline downloads whole books into the persistent cache.

A download walks the pages of one book strictly in order, retrying each page
with exponential backoff. The book becomes available only when every page
made it; a single permanent failure rolls every stored page back.

# Status Records

Progress is persisted after every page as a [Status] record, so a restarted
gateway resumes an interrupted download from the next page. A "downloading"
record nobody has touched for the stale threshold is considered abandoned
and is reset to "error" the next time it is read.

# Index Marker

A successful download ends with an index marker entry in the image cache.
Removal deletes the marker last, so a crash half-way through a removal never
leaves a book looking available.
*/
package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCorruptStatus is returned when a persisted record cannot be decoded.
var ErrCorruptStatus = errors.New("offline: corrupt status record")

// # Download State

// State is the discriminator of a [Status] record.
type State string

const (
	StateIdle        State = "idle"
	StateDownloading State = "downloading"
	StateAvailable   State = "available"
	StateError       State = "error"
)

// Valid reports whether state is one of the four known states.
func (state State) Valid() bool {
	switch state {
	case StateIdle, StateDownloading, StateAvailable, StateError:
		return true
	default:
		return false
	}
}

// # Status Record

/*
Status is the persisted download record of one book.

	{"bookId":"...","status":"downloading","progress":40,"lastDownloadedPage":4,
	 "pagesCount":10,"failures":0,"timestamp":1760000000000}

Timestamp is in Unix milliseconds.
*/
type Status struct {
	BookID             string `json:"bookId"`
	State              State  `json:"status"`
	Progress           int    `json:"progress"`
	LastDownloadedPage int    `json:"lastDownloadedPage"`
	PagesCount         int    `json:"pagesCount"`
	Failures           int    `json:"failures"`
	Timestamp          int64  `json:"timestamp"`
}

// Idle is the implicit record of a book that was never downloaded.
func Idle(bookID string) *Status {
	return &Status{BookID: bookID, State: StateIdle}
}

// UpdatedAt returns the record timestamp.
func (status *Status) UpdatedAt() time.Time {
	return time.UnixMilli(status.Timestamp)
}

// Touch stamps the record with now.
func (status *Status) Touch(now time.Time) {
	status.Timestamp = now.UnixMilli()
}

// StaleAt reports whether a downloading record has been silent for longer than threshold.
func (status *Status) StaleAt(now time.Time, threshold time.Duration) bool {
	return status.State == StateDownloading && now.Sub(status.UpdatedAt()) > threshold
}

// Advance records page as handled and recomputes the percentage.
func (status *Status) Advance(page int) {
	status.LastDownloadedPage = page
	if status.PagesCount > 0 {
		status.Progress = page * 100 / status.PagesCount
	}
}

// Clone returns a copy safe to hand out.
func (status *Status) Clone() *Status {
	clone := *status
	return &clone
}

// # Encoding

// EncodeStatus serialises a record.
func EncodeStatus(status *Status) ([]byte, error) {
	if !status.State.Valid() {
		return nil, fmt.Errorf("offline: refusing to store unknown state %q", status.State)
	}
	return json.Marshal(status)
}

// DecodeStatus parses a record and rejects unknown states.
func DecodeStatus(raw []byte) (*Status, error) {
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStatus, err)
	}
	if !status.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrCorruptStatus, status.State)
	}
	if status.Progress < 0 || status.Progress > 100 {
		return nil, fmt.Errorf("%w: progress %d out of range", ErrCorruptStatus, status.Progress)
	}
	return &status, nil
}
