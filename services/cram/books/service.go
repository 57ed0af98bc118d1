// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package books serves the reference-book master sheet: fuzzy find, block
// reads, filtering, creation and confirmed update and delete.
//
// Each book is a row block: the parent row carries the book id and scalar
// metadata plus chapter 1, and the rows below it with an empty id carry
// chapters 2..N. Every operation reads the sheet afresh; nothing is cached
// between calls.
package books

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/columns"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/idrules"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/rowblock"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
)

var tracer = otel.Tracer("cram.books")

// Logical column fields of the book sheet.
const (
	fieldID        = "id"
	fieldTitle     = "title"
	fieldSubject   = "subject"
	fieldAliases   = "aliases"
	fieldGoal      = "goal"
	fieldUnitLoad  = "unit_load"
	fieldChapIdx   = "chapter_idx"
	fieldChapName  = "chapter_name"
	fieldChapBegin = "chapter_begin"
	fieldChapEnd   = "chapter_end"
	fieldNumbering = "numbering"
	fieldBookType  = "book_type"
	fieldQuizType  = "quiz_type"
	fieldQuizID    = "quiz_id"
)

// Confirmation kinds.
const (
	kindUpdate = "upd"
	kindDelete = "del"
)

// chapterFields are the per-chapter columns, in write order.
var chapterFields = []string{fieldChapIdx, fieldChapName, fieldChapBegin, fieldChapEnd, fieldNumbering}

// DefaultAliases is the stock header table.
var DefaultAliases = columns.Aliases{
	fieldID:        {"参考書ID", "ID", "id"},
	fieldTitle:     {"参考書名", "タイトル", "書名", "title", "名称"},
	fieldSubject:   {"教科", "科目", "subject"},
	fieldAliases:   {"別名", "別称", "aliases"},
	fieldGoal:      {"月間目標", "goal"},
	fieldUnitLoad:  {"単位当たり処理量", "単位処理量", "unit_load"},
	fieldChapIdx:   {"章立て"},
	fieldChapName:  {"章の名前", "章名"},
	fieldChapBegin: {"章のはじめ", "開始", "begin", "start"},
	fieldChapEnd:   {"章の終わり", "終了", "end"},
	fieldNumbering: {"番号の数え方", "番号", "numbering"},
	fieldBookType:  {"参考書のタイプ", "book_type"},
	fieldQuizType:  {"確認テストのタイプ", "quiz_type"},
	fieldQuizID:    {"確認テストID", "quiz_id"},
}

// FindObserver receives the number of candidates each find returns.
type FindObserver func(entity string, n int)

// Deps are the collaborators of a Service.
type Deps struct {
	// Workbook is the spreadsheet backend. Required.
	Workbook sheets.Workbook

	// Source is the default books sheet.
	Source sheets.Ref

	// Columns is the header alias table. Nil uses DefaultAliases.
	Columns columns.Aliases

	// Search configures books.find.
	Search search.Config

	// Rules derives ID prefixes for books.create.
	Rules idrules.Table

	// Confirm issues and redeems update and delete tokens. Required.
	Confirm *confirm.Manager

	// FindDebug logs the top candidates of every find.
	FindDebug bool

	// ObserveFind is called after every find. May be nil.
	ObserveFind FindObserver

	// Logger may be nil.
	Logger *slog.Logger
}

// Service implements the books operations.
//
// Thread Safety: Safe for concurrent use. Concurrent writers to one sheet
// are not serialized against each other.
type Service struct {
	wb        sheets.Workbook
	src       sheets.Ref
	aliases   columns.Aliases
	search    search.Config
	rules     idrules.Table
	confirm   *confirm.Manager
	findDebug bool
	observe   FindObserver
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	if d.Workbook == nil || d.Confirm == nil {
		panic("books.NewService: Workbook and Confirm are required")
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
		rules:     d.Rules,
		confirm:   d.Confirm,
		findDebug: d.FindDebug,
		observe:   d.ObserveFind,
		logger:    d.Logger,
	}
}

// =============================================================================
// Sheet Access
// =============================================================================

// ref applies a per-request override to the default source.
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

// load reads the sheet and resolves its header row.
func (s *Service) load(ctx context.Context, ref sheets.Ref) (sheets.Grid, columns.Index, error) {
	g, err := s.wb.ReadSheet(ctx, ref)
	if err != nil {
		return nil, columns.Index{}, err
	}
	return g, columns.Resolve(g.Header(), s.aliases), nil
}

// requireColumns fails with BAD_HEADER when a field did not resolve.
func requireColumns(ix columns.Index, fields ...string) error {
	if missing := ix.MissingOf(fields...); len(missing) > 0 {
		return api.Errorf(api.CodeBadHeader, "required columns not found: %s", strings.Join(missing, ", ")).
			WithDetails(map[string]any{"headers": ix.Headers(), "missing": missing})
	}
	return nil
}

// locate finds the block of bookID, reading no further than needed.
func locate(g sheets.Grid, ix columns.Index, bookID string) (rowblock.Block, error) {
	b, ok := rowblock.LookupSeq(g.From(1), ix.Col(fieldID), bookID)
	if !ok {
		return rowblock.Block{}, api.NotFound("book %q not found", bookID)
	}
	return b, nil
}

// =============================================================================
// Row Decoding
// =============================================================================

// goalHours captures the hour count of a monthly goal such as "1日1.5時間".
var goalHours = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*時間`)

// aliasSplit separates comma or ideographic-comma delimited aliases.
var aliasSplit = regexp.MustCompile(`[,、]`)

// ParseMonthlyGoal extracts per-day minutes from free text.
func ParseMonthlyGoal(text string) MonthlyGoal {
	g := MonthlyGoal{Text: text}
	if m := goalHours.FindStringSubmatch(text); m != nil {
		if h, err := strconv.ParseFloat(m[1], 64); err == nil {
			mins := int(math.Round(h * 60))
			g.PerDayMinutes = &mins
		}
	}
	return g
}

// ParseAliases reads an alias cell holding either a JSON string array or
// a comma-separated list.
func ParseAliases(cell string) []string {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	if strings.HasPrefix(cell, "[") {
		if list, err := decodeStringList(cell); err == nil {
			return list
		}
	}
	var out []string
	for _, p := range aliasSplit.Split(cell, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// number parses a display value, returning nil for blanks and non-numbers.
func number(cell string) *float64 {
	cell = strings.ReplaceAll(strings.TrimSpace(cell), ",", "")
	if cell == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func formatNumber(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// decodeBook assembles a Book from its block.
func decodeBook(b rowblock.Block, ix columns.Index) Book {
	p := b.Parent.Cells
	book := Book{
		ID:          b.Key,
		Title:       ix.Get(p, fieldTitle),
		Subject:     ix.Get(p, fieldSubject),
		MonthlyGoal: ParseMonthlyGoal(ix.Get(p, fieldGoal)),
		UnitLoad:    number(ix.Get(p, fieldUnitLoad)),
		Structure:   Structure{Chapters: []Chapter{}},
		Assessment: Assessment{
			BookType: ix.Get(p, fieldBookType),
			QuizType: ix.Get(p, fieldQuizType),
			QuizID:   ix.Get(p, fieldQuizID),
		},
	}
	for _, r := range b.Rows() {
		name := ix.Get(r.Cells, fieldChapName)
		begin := number(ix.Get(r.Cells, fieldChapBegin))
		end := number(ix.Get(r.Cells, fieldChapEnd))
		if name == "" && begin == nil && end == nil {
			continue
		}
		ch := Chapter{
			Idx:       len(book.Structure.Chapters) + 1,
			Title:     optString(name),
			Numbering: optString(ix.Get(r.Cells, fieldNumbering)),
		}
		if idx := number(ix.Get(r.Cells, fieldChapIdx)); idx != nil {
			ch.Idx = int(math.Round(*idx))
		}
		if begin != nil || end != nil {
			ch.Range = &ChapterRange{Start: begin, End: end}
		}
		book.Structure.Chapters = append(book.Structure.Chapters, ch)
	}
	return book
}

// emptyErr reports a sheet without even a header row.
func emptyErr() error {
	return api.Errorf(api.CodeEmpty, "sheet is empty")
}

func decodeStringList(s string) ([]string, error) {
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	return list, nil
}
