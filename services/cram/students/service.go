// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package students serves the student master sheet: listing, fuzzy find,
// reads, filtering, creation and confirmed update and delete, plus the
// lookup of a student's planner spreadsheet.
//
// Each student is one row keyed by the id column.
package students

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/columns"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/rowblock"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
)

var tracer = otel.Tracer("cram.students")

// Logical column fields of the student sheet.
const (
	fieldID      = "id"
	fieldName    = "name"
	fieldKana    = "kana"
	fieldGrade   = "grade"
	fieldPlanner = "planner"
	fieldMeeting = "meeting"
	fieldTags    = "tags"
	fieldLink    = "link"
)

// Confirmation kinds.
const (
	kindUpdate = "stu_upd"
	kindDelete = "stu_del"
)

// DefaultIDPrefix is used by students.create without id_prefix.
const DefaultIDPrefix = "s"

// DefaultAliases is the stock header table.
var DefaultAliases = columns.Aliases{
	fieldID:      {"生徒ID", "ID", "id"},
	fieldName:    {"氏名", "名前", "生徒名", "name"},
	fieldKana:    {"ふりがな", "フリガナ", "よみがな", "kana"},
	fieldGrade:   {"学年", "grade"},
	fieldPlanner: {"スピードプランナーID", "PlannerSheetId", "planner_sheet_id", "プランナーID"},
	fieldMeeting: {"面談メモID", "MeetingDocId", "meeting_doc_id", "面談ドキュメントID"},
	fieldTags:    {"タグ", "tags"},
	fieldLink:    {"スプレッドシート", "スピードプランナー", "PlannerLink", "プランナーリンク", "スプレッドシートURL"},
}

// FindObserver receives the number of candidates each find returns.
type FindObserver func(entity string, n int)

// Deps are the collaborators of a Service.
type Deps struct {
	// Workbook is the spreadsheet backend. Required.
	Workbook sheets.Workbook

	// Source is the default students sheet.
	Source sheets.Ref

	// Columns is the header alias table. Nil uses DefaultAliases.
	Columns columns.Aliases

	// Search configures students.find.
	Search search.Config

	// Confirm issues and redeems update and delete tokens. Required.
	Confirm *confirm.Manager

	// FindDebug logs the top candidates of every find.
	FindDebug bool

	// ObserveFind is called after every find. May be nil.
	ObserveFind FindObserver

	// Logger may be nil.
	Logger *slog.Logger
}

// Service implements the students operations.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	wb        sheets.Workbook
	src       sheets.Ref
	aliases   columns.Aliases
	search    search.Config
	confirm   *confirm.Manager
	findDebug bool
	observe   FindObserver
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	if d.Workbook == nil || d.Confirm == nil {
		panic("students.NewService: Workbook and Confirm are required")
	}
	if d.Columns == nil {
		d.Columns = DefaultAliases
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ObserveFind == nil {
		d.ObserveFind = func(string, int) {}
	}
	return &Service{
		wb:        d.Workbook,
		src:       d.Source,
		aliases:   d.Columns,
		search:    d.Search,
		confirm:   d.Confirm,
		findDebug: d.FindDebug,
		observe:   d.ObserveFind,
		logger:    d.Logger,
	}
}

func (s *Service) ref(src Source) sheets.Ref {
	ref := s.src
	if src.FileID != "" {
		ref.SpreadsheetID = src.FileID
	}
	if src.Sheet != "" {
		ref.Sheet = src.Sheet
	}
	return ref
}

func (s *Service) load(ctx context.Context, ref sheets.Ref) (sheets.Grid, columns.Index, error) {
	g, err := s.wb.ReadSheet(ctx, ref)
	if err != nil {
		return nil, columns.Index{}, err
	}
	return g, columns.Resolve(g.Header(), s.aliases), nil
}

// loadKeyed loads a sheet that must have a header and an id column.
func (s *Service) loadKeyed(ctx context.Context, ref sheets.Ref) (sheets.Grid, columns.Index, error) {
	g, ix, err := s.load(ctx, ref)
	if err != nil {
		return nil, ix, err
	}
	if len(g) == 0 {
		return nil, ix, api.Errorf(api.CodeEmpty, "sheet is empty")
	}
	if err := requireColumns(ix, fieldID); err != nil {
		return nil, ix, err
	}
	return g, ix, nil
}

// requireColumns reports BAD_HEADER naming the fields ix cannot resolve.
func requireColumns(ix columns.Index, fields ...string) error {
	if missing := ix.MissingOf(fields...); len(missing) > 0 {
		return api.Errorf(api.CodeBadHeader, "required columns not found: %s", strings.Join(missing, ", ")).
			WithDetails(map[string]any{"headers": ix.Headers(), "missing": missing})
	}
	return nil
}

// locate returns the grid row of studentID.
func locate(g sheets.Grid, ix columns.Index, studentID string) (int, error) {
	b, ok := rowblock.LookupSeq(g.From(1), ix.Col(fieldID), studentID)
	if !ok {
		return 0, api.NotFound("student %q not found", studentID)
	}
	return b.Start, nil
}

// decode builds a Student from a row.
func decode(row []string, ix columns.Index) Student {
	st := Student{
		ID:             ix.Get(row, fieldID),
		Name:           ix.Get(row, fieldName),
		Grade:          ix.Get(row, fieldGrade),
		PlannerSheetID: ix.Get(row, fieldPlanner),
		MeetingDocID:   ix.Get(row, fieldMeeting),
		Tags:           ix.Get(row, fieldTags),
		Row:            make(map[string]string, ix.Width()),
	}
	for i, h := range ix.Headers() {
		if h = strings.TrimSpace(h); h != "" {
			st.Row[h] = rowblock.Cell(row, i)
		}
	}
	return st
}

// headerColumn resolves a caller key: a field name with its aliases, or
// a header compared by header key.
func (s *Service) headerColumn(ix columns.Index, key string) int {
	return ix.Lookup(key, s.aliases)
}

// cellText renders a JSON value as cell text.
func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// =============================================================================
// Planner Resolution
// =============================================================================

// spreadsheetIDRe finds a spreadsheet id embedded in a link or note.
var spreadsheetIDRe = regexp.MustCompile(`[-\w]{25,}`)

// PlannerID returns the planner spreadsheet id of studentID.
//
// Description:
//
//	The planner id column wins. Otherwise every column whose header
//	mentions a link alias is searched for the first run of 25 or more id
//	characters, which covers both bare ids and spreadsheet URLs.
//
// Outputs:
//
//	string - The spreadsheet id.
//	error - NOT_FOUND for an unknown student or one without a planner.
func (s *Service) PlannerID(ctx context.Context, studentID string) (string, error) {
	ctx, span := tracer.Start(ctx, "students.PlannerID")
	defer span.End()

	g, ix, err := s.loadKeyed(ctx, s.src)
	if err != nil {
		return "", err
	}
	r, err := locate(g, ix, strings.TrimSpace(studentID))
	if err != nil {
		return "", err
	}
	row := g.Row(r)
	if id := ix.Get(row, fieldPlanner); id != "" {
		return id, nil
	}
	for i, h := range ix.Headers() {
		if !mentionsAny(h, s.aliases[fieldLink]) {
			continue
		}
		if m := spreadsheetIDRe.FindString(rowblock.Cell(row, i)); m != "" {
			return m, nil
		}
	}
	return "", api.NotFound("student %q has no planner spreadsheet", studentID)
}

// mentionsAny reports whether header contains one of keywords, compared
// by header key.
func mentionsAny(header string, keywords []string) bool {
	h := columns.HeaderKey(header)
	for _, k := range keywords {
		if k = columns.HeaderKey(k); k != "" && strings.Contains(h, k) {
			return true
		}
	}
	return false
}
