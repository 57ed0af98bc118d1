// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package students

import (
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
)

// =============================================================================
// Student Shape
// =============================================================================

// Student is one row of the student master.
type Student struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Grade          string `json:"grade"`
	PlannerSheetID string `json:"planner_sheet_id"`
	MeetingDocID   string `json:"meeting_doc_id"`
	Tags           string `json:"tags"`

	// Row maps every named header to its cell.
	Row map[string]string `json:"row"`
}

// =============================================================================
// Requests
// =============================================================================

// Source optionally overrides the configured spreadsheet and sheet.
type Source struct {
	FileID string `json:"file_id,omitempty" form:"file_id"`
	Sheet  string `json:"sheet,omitempty" form:"sheet"`
}

// ListRequest is the input of students.list.
type ListRequest struct {
	Source
	Limit int `json:"limit,omitempty" form:"limit" validate:"gte=0"`
}

// FindRequest is the input of students.find.
type FindRequest struct {
	Source
	Query string `json:"query" form:"query" validate:"required"`
	Limit int    `json:"limit,omitempty" form:"limit" validate:"gte=0"`
}

// GetRequest is the input of students.get.
type GetRequest struct {
	Source
	StudentID  string   `json:"student_id,omitempty" form:"student_id"`
	StudentIDs []string `json:"student_ids,omitempty" form:"student_ids"`
}

// FilterRequest is the input of students.filter.
type FilterRequest struct {
	Source
	Where    map[string]string `json:"where,omitempty" form:"-"`
	Contains map[string]string `json:"contains,omitempty" form:"-"`
	Limit    int               `json:"limit,omitempty" form:"limit" validate:"gte=0"`
}

// CreateRequest is the input of students.create. Record keys are headers;
// the named fields fill their columns only when Record left them empty.
type CreateRequest struct {
	Source
	Record         map[string]any `json:"record,omitempty" form:"-"`
	Name           string         `json:"name,omitempty" form:"name"`
	Grade          string         `json:"grade,omitempty" form:"grade"`
	PlannerSheetID string         `json:"planner_sheet_id,omitempty" form:"planner_sheet_id"`
	MeetingDocID   string         `json:"meeting_doc_id,omitempty" form:"meeting_doc_id"`
	IDPrefix       string         `json:"id_prefix,omitempty" form:"id_prefix"`
}

// UpdateRequest is the input of students.update. Updates keys are headers.
type UpdateRequest struct {
	Source
	StudentID    string         `json:"student_id" form:"student_id" validate:"required"`
	Updates      map[string]any `json:"updates,omitempty" form:"-"`
	ConfirmToken string         `json:"confirm_token,omitempty" form:"confirm_token"`
}

// DeleteRequest is the input of students.delete.
type DeleteRequest struct {
	Source
	StudentID    string `json:"student_id" form:"student_id" validate:"required"`
	ConfirmToken string `json:"confirm_token,omitempty" form:"confirm_token"`
}

// =============================================================================
// Responses
// =============================================================================

// ListResult is the output of students.list and students.filter.
type ListResult struct {
	Students []Student `json:"students"`
	Count    int       `json:"count"`
}

// Candidate is one students.find hit.
type Candidate struct {
	StudentID string        `json:"student_id"`
	Name      string        `json:"name"`
	Grade     string        `json:"grade"`
	Score     float64       `json:"score"`
	Reason    search.Reason `json:"reason"`
}

// FindResult is the output of students.find.
type FindResult struct {
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
	Top        *Candidate  `json:"top"`
	Confidence float64     `json:"confidence"`
}

// GetResult is the output of students.get. Exactly one field is set.
type GetResult struct {
	Student  *Student   `json:"student,omitempty"`
	Students *[]Student `json:"students,omitempty"`
}

// CreateResult is the output of students.create.
type CreateResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Diff is one previewed cell change, keyed by header in UpdatePreview.
type Diff struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UpdatePreview is what students.update would change.
type UpdatePreview struct {
	StudentID string          `json:"student_id"`
	Diffs     map[string]Diff `json:"diffs"`
}

// DeletePreview is what students.delete would remove. Row is 1-based.
type DeletePreview struct {
	StudentID string `json:"student_id"`
	Row       int    `json:"row"`
}

// UpdateResult is the confirmed output of students.update.
type UpdateResult struct {
	StudentID string `json:"student_id"`
	Updated   bool   `json:"updated"`
}

// DeleteResult is the confirmed output of students.delete.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}
