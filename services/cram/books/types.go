// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package books

import (
	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
)

// =============================================================================
// Book Shape
// =============================================================================

// Book is one reference book assembled from its row block.
type Book struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Subject     string      `json:"subject"`
	MonthlyGoal MonthlyGoal `json:"monthly_goal"`
	UnitLoad    *float64    `json:"unit_load"`
	Structure   Structure   `json:"structure"`
	Assessment  Assessment  `json:"assessment"`
}

// MonthlyGoal is the free-text goal plus what could be parsed from it.
type MonthlyGoal struct {
	Text            string `json:"text"`
	PerDayMinutes   *int   `json:"per_day_minutes"`
	Days            *int   `json:"days"`
	TotalMinutesEst *int   `json:"total_minutes_est"`
}

// Structure holds the chapter list.
type Structure struct {
	Chapters []Chapter `json:"chapters"`
}

// Chapter is one chapter row.
type Chapter struct {
	Idx       int           `json:"idx"`
	Title     *string       `json:"title"`
	Range     *ChapterRange `json:"range"`
	Numbering *string       `json:"numbering"`
}

// ChapterRange is the page or problem range of a chapter. Either end may be
// unknown.
type ChapterRange struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// Assessment describes the book's check test.
type Assessment struct {
	BookType string `json:"book_type"`
	QuizType string `json:"quiz_type"`
	QuizID   string `json:"quiz_id"`
}

// =============================================================================
// Requests
// =============================================================================

// Source optionally overrides the configured spreadsheet and sheet for
// read operations.
type Source struct {
	FileID string `json:"file_id,omitempty" form:"file_id"`
	Sheet  string `json:"sheet,omitempty" form:"sheet"`
}

// FindRequest is the input of books.find.
type FindRequest struct {
	Source
	Query string `json:"query" form:"query" validate:"required"`
	Limit int    `json:"limit,omitempty" form:"limit" validate:"gte=0"`
}

// GetRequest is the input of books.get. BookIDs takes precedence.
type GetRequest struct {
	Source
	BookID  string   `json:"book_id,omitempty" form:"book_id"`
	BookIDs []string `json:"book_ids,omitempty" form:"book_ids"`
}

// FilterRequest is the input of books.filter.
type FilterRequest struct {
	Source
	Where    map[string]string `json:"where,omitempty" form:"-"`
	Contains map[string]string `json:"contains,omitempty" form:"-"`
	Limit    int               `json:"limit,omitempty" form:"limit" validate:"gte=0"`
}

// ChapterInput is a chapter supplied by create and update.
type ChapterInput struct {
	Title     string      `json:"title,omitempty"`
	Range     *RangeInput `json:"range,omitempty"`
	Numbering string      `json:"numbering,omitempty"`
}

// RangeInput is the range of a ChapterInput.
type RangeInput struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// CreateRequest is the input of books.create.
type CreateRequest struct {
	Title       string         `json:"title" form:"title" validate:"required"`
	Subject     string         `json:"subject" form:"subject" validate:"required"`
	UnitLoad    *float64       `json:"unit_load,omitempty" form:"unit_load"`
	MonthlyGoal string         `json:"monthly_goal,omitempty" form:"monthly_goal"`
	Chapters    []ChapterInput `json:"chapters,omitempty" form:"-" validate:"dive"`
	IDPrefix    string         `json:"id_prefix,omitempty" form:"id_prefix"`
}

// UpdateFields are the changes of books.update. Absent fields are left
// alone; a null unit_load clears the cell.
type UpdateFields struct {
	Title       *string               `json:"title,omitempty"`
	Subject     *string               `json:"subject,omitempty"`
	MonthlyGoal *string               `json:"monthly_goal,omitempty"`
	UnitLoad    api.Optional[float64] `json:"unit_load,omitzero"`
	Chapters    *[]ChapterInput       `json:"chapters,omitempty"`
}

// UpdateRequest is the input of books.update.
type UpdateRequest struct {
	BookID       string       `json:"book_id" form:"book_id" validate:"required"`
	Updates      UpdateFields `json:"updates" form:"-"`
	ConfirmToken string       `json:"confirm_token,omitempty" form:"confirm_token"`
}

// DeleteRequest is the input of books.delete.
type DeleteRequest struct {
	BookID       string `json:"book_id" form:"book_id" validate:"required"`
	ConfirmToken string `json:"confirm_token,omitempty" form:"confirm_token"`
}

// =============================================================================
// Responses
// =============================================================================

// Candidate is one books.find hit.
type Candidate struct {
	BookID  string        `json:"book_id"`
	Title   string        `json:"title"`
	Subject string        `json:"subject"`
	Score   float64       `json:"score"`
	Reason  search.Reason `json:"reason"`
}

// FindResult is the output of books.find.
type FindResult struct {
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
	Top        *Candidate  `json:"top"`
	Confidence float64     `json:"confidence"`
}

// GetResult is the output of books.get. Exactly one field is set.
type GetResult struct {
	Book  *Book   `json:"book,omitempty"`
	Books *[]Book `json:"books,omitempty"`
}

// FilterResult is the output of books.filter. Limit is null when unlimited.
type FilterResult struct {
	Books []Book `json:"books"`
	Count int    `json:"count"`
	Limit *int   `json:"limit"`
}

// CreateResult is the output of books.create.
type CreateResult struct {
	ID          string `json:"id"`
	CreatedRows int    `json:"created_rows"`
}

// MetaChange is one previewed field change.
type MetaChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// ChapterChange previews the child-row count change.
type ChapterChange struct {
	FromCount int `json:"from_count"`
	ToCount   int `json:"to_count"`
}

// UpdatePreview is what books.update would change.
type UpdatePreview struct {
	BookID      string                `json:"book_id"`
	MetaChanges map[string]MetaChange `json:"meta_changes"`
	Chapters    *ChapterChange        `json:"chapters"`
}

// DeleteRange is the 1-based sheet row span of a block.
type DeleteRange struct {
	StartRow int `json:"start_row"`
	EndRow   int `json:"end_row"`
}

// DeletePreview is what books.delete would remove.
type DeletePreview struct {
	BookID     string      `json:"book_id"`
	DeleteRows int         `json:"delete_rows"`
	Range      DeleteRange `json:"range"`
}

// UpdateResult is the confirmed output of books.update.
type UpdateResult struct {
	BookID  string `json:"book_id"`
	Updated bool   `json:"updated"`
}

// DeleteResult is the confirmed output of books.delete.
type DeleteResult struct {
	DeletedRows int `json:"deleted_rows"`
}
