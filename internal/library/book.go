// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package library

import "context"

// # Domain Entities

// BookRef points at another book, typically the successor of the one being read.
type BookRef struct {
	ID         string `json:"id"`
	PagesCount int    `json:"pages_count"`
}

// Book is the reader's view of a chapter: an ordered run of page images.
type Book struct {
	ID         string   `json:"id"`
	ComicID    string   `json:"comic_id"`
	Title      string   `json:"title,omitempty"`
	Number     float64  `json:"number"`
	PagesCount int      `json:"pages_count"`
	Next       *BookRef `json:"next,omitempty"`
}

// # Data Access

// Catalog resolves book metadata.
type Catalog interface {

	/*
		FindBook returns the book with the given ID together with its successor.

		Parameters:
		  - ctx: context.Context
		  - id: string (UUID)

		Returns:
		  - *Book: Metadata; Next is nil for the last book of a series
		  - error: NOT_FOUND if the book does not exist or was deleted
	*/
	FindBook(ctx context.Context, id string) (*Book, error)
}
