// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

// CorePageTable maps the 'core.page' table, one row per page image of a chapter.
type CorePageTable struct {
	Table      string
	ID         string
	ChapterID  string
	PageNumber string
}

// CorePage is the schema definition for core.page.
var CorePage = CorePageTable{
	Table:      "core.page",
	ID:         "id",
	ChapterID:  "chapterid",
	PageNumber: "pagenumber",
}
