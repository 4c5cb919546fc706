// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

// CoreChapterTable maps the 'core.chapter' table. Each chapter is one readable book.
type CoreChapterTable struct {
	Table         string
	ID            string
	ComicID       string
	LanguageID    string
	ChapterNumber string
	Title         string
	DeletedAt     string
}

// CoreChapter is the schema definition for core.chapter.
var CoreChapter = CoreChapterTable{
	Table:         "core.chapter",
	ID:            "id",
	ComicID:       "comicid",
	LanguageID:    "languageid",
	ChapterNumber: "chapternumber",
	Title:         "title",
	DeletedAt:     "deletedat",
}
