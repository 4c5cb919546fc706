// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package library

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/yomira-reader/internal/platform/database/schema"
	"github.com/taibuivan/yomira-reader/internal/platform/dberr"
)

// # PostgreSQL Catalog

// postgresCatalog implements [Catalog] over the library's chapter tables.
type postgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog constructs a PostgreSQL backed [Catalog].
func NewPostgresCatalog(pool *pgxpool.Pool) Catalog {
	return &postgresCatalog{pool: pool}
}

// findBookQuery selects a chapter, its page count, and the next chapter of the
// same comic and language in a single round-trip.
var findBookQuery = fmt.Sprintf(`
	SELECT
		c.%[1]s, c.%[2]s, c.%[4]s, c.%[5]s,
		(SELECT COUNT(*) FROM %[7]s p WHERE p.%[8]s = c.%[1]s) AS pages_count,
		n.%[1]s,
		(SELECT COUNT(*) FROM %[7]s p WHERE p.%[8]s = n.%[1]s) AS next_pages_count
	FROM %[9]s c
	LEFT JOIN LATERAL (
		SELECT s.%[1]s
		FROM %[9]s s
		WHERE s.%[2]s = c.%[2]s
		  AND s.%[3]s = c.%[3]s
		  AND s.%[4]s > c.%[4]s
		  AND s.%[6]s IS NULL
		ORDER BY s.%[4]s ASC
		LIMIT 1
	) n ON TRUE
	WHERE c.%[1]s = $1 AND c.%[6]s IS NULL
`,
	schema.CoreChapter.ID,            // 1
	schema.CoreChapter.ComicID,       // 2
	schema.CoreChapter.LanguageID,    // 3
	schema.CoreChapter.ChapterNumber, // 4
	schema.CoreChapter.Title,         // 5
	schema.CoreChapter.DeletedAt,     // 6
	schema.CorePage.Table,            // 7
	schema.CorePage.ChapterID,        // 8
	schema.CoreChapter.Table,         // 9
)

/*
FindBook loads a chapter as a [Book].

Parameters:
  - ctx: context.Context
  - id: string (Chapter UUID)

Returns:
  - *Book: Hydrated metadata including the successor reference
  - error: NOT_FOUND or INTERNAL_ERROR
*/
func (catalog *postgresCatalog) FindBook(ctx context.Context, id string) (*Book, error) {
	var book Book
	var title *string
	var nextID *string
	var nextPages int

	err := catalog.pool.QueryRow(ctx, findBookQuery, id).Scan(
		&book.ID,
		&book.ComicID,
		&book.Number,
		&title,
		&book.PagesCount,
		&nextID,
		&nextPages,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "Book", "find book")
	}

	if title != nil {
		book.Title = *title
	}
	if nextID != nil {
		book.Next = &BookRef{ID: *nextID, PagesCount: nextPages}
	}

	return &book, nil
}
