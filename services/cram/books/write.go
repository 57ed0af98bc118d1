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
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/columns"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/idrules"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/rowblock"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
)

// =============================================================================
// Create
// =============================================================================

// Create appends a new book block and returns its allocated id.
//
// Description:
//
//	The id prefix is IDPrefix when given, otherwise derived from subject
//	and title. The sequence is the highest existing one for the prefix
//	plus one. The parent row carries the metadata and chapter 1; each
//	further chapter gets its own row.
//
// Outputs:
//
//	CreateResult - The new id and the number of rows appended.
//	error - BAD_REQUEST without title or subject, EMPTY for a sheet with
//	no header, BAD_HEADER for missing columns.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	ctx, span := tracer.Start(ctx, "books.Create")
	defer span.End()

	title := strings.TrimSpace(req.Title)
	subject := strings.TrimSpace(req.Subject)
	if title == "" || subject == "" {
		return CreateResult{}, api.BadRequest("title and subject are required")
	}

	ref := s.src
	g, ix, err := s.load(ctx, ref)
	if err != nil {
		return CreateResult{}, err
	}
	if len(g) == 0 {
		return CreateResult{}, emptyErr()
	}
	if err := requireColumns(ix, fieldID, fieldTitle, fieldSubject); err != nil {
		return CreateResult{}, err
	}

	prefix := strings.TrimSpace(req.IDPrefix)
	if prefix == "" {
		prefix = s.rules.BookPrefix(subject, title)
	}
	idCol := ix.Col(fieldID)
	ids := make([]string, 0, len(g))
	for _, row := range g.From(1) {
		ids = append(ids, rowblock.Cell(row, idCol))
	}
	id := idrules.NextID(prefix, ids)

	parent := ix.NewRow()
	parent = ix.Set(parent, fieldID, id)
	parent = ix.Set(parent, fieldTitle, title)
	parent = ix.Set(parent, fieldSubject, subject)
	parent = ix.Set(parent, fieldGoal, strings.TrimSpace(req.MonthlyGoal))
	parent = ix.Set(parent, fieldUnitLoad, formatNumber(req.UnitLoad))

	rows := [][]string{parent}
	for i, ch := range req.Chapters {
		if i == 0 {
			rows[0] = setChapter(ix, parent, 1, ch)
			continue
		}
		rows = append(rows, setChapter(ix, ix.NewRow(), i+1, ch))
	}

	if err := s.wb.AppendRows(ctx, ref, rows); err != nil {
		return CreateResult{}, err
	}

	span.SetAttributes(attribute.String("book_id", id), attribute.Int("rows", len(rows)))
	s.logger.Info("book created",
		slog.String("book_id", id),
		slog.String("prefix", prefix),
		slog.Int("rows", len(rows)),
	)
	return CreateResult{ID: id, CreatedRows: len(rows)}, nil
}

// setChapter fills the chapter columns of row.
func setChapter(ix columns.Index, row []string, idx int, ch ChapterInput) []string {
	for field, v := range chapterValues(idx, ch) {
		row = ix.Set(row, field, v)
	}
	return row
}

// chapterValues maps the chapter columns to their cell text.
func chapterValues(idx int, ch ChapterInput) map[string]string {
	var begin, end *float64
	if ch.Range != nil {
		begin, end = ch.Range.Start, ch.Range.End
	}
	return map[string]string{
		fieldChapIdx:   strconv.Itoa(idx),
		fieldChapName:  strings.TrimSpace(ch.Title),
		fieldChapBegin: formatNumber(begin),
		fieldChapEnd:   formatNumber(end),
		fieldNumbering: strings.TrimSpace(ch.Numbering),
	}
}

// blankChapter maps every chapter column to "".
func blankChapter() map[string]string {
	m := make(map[string]string, len(chapterFields))
	for _, f := range chapterFields {
		m[f] = ""
	}
	return m
}

// writeFields writes values into one row, one call per run of adjacent
// resolved columns. Unresolved fields are skipped.
func (s *Service) writeFields(ctx context.Context, ref sheets.Ref, ix columns.Index, row int, values map[string]string) error {
	byCol := make(map[int]string, len(values))
	for field, v := range values {
		if c := ix.Col(field); c != columns.Missing {
			byCol[c] = v
		}
	}
	cols := make([]int, 0, len(byCol))
	for c := range byCol {
		cols = append(cols, c)
	}
	slices.Sort(cols)

	for i := 0; i < len(cols); {
		j := i + 1
		for j < len(cols) && cols[j] == cols[j-1]+1 {
			j++
		}
		run := make([]string, 0, j-i)
		for _, c := range cols[i:j] {
			run = append(run, byCol[c])
		}
		if err := s.wb.WriteCells(ctx, ref, row, cols[i], [][]string{run}); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// =============================================================================
// Update
// =============================================================================

// Update previews or applies changes to a book.
//
// Description:
//
//	Without a confirm token the block is located, the changes that differ
//	from the sheet are previewed and a token bound to the book id is
//	issued with the requested updates as payload. With a token the payload
//	is redeemed, the block is located again and the changes are written:
//	scalar cells on the parent row, then the chapter rows resized to fit
//	(inserting below the block or deleting its tail) and rewritten.
//
// Outputs:
//
//	any - confirm.Pending[UpdatePreview] or UpdateResult.
//	error - NOT_FOUND, BAD_HEADER, or a CONFIRM_* code on redemption.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (any, error) {
	ctx, span := tracer.Start(ctx, "books.Update")
	defer span.End()

	bookID := strings.TrimSpace(req.BookID)
	if bookID == "" {
		return nil, api.BadRequest("book_id is required")
	}
	span.SetAttributes(attribute.String("book_id", bookID), attribute.Bool("confirm", req.ConfirmToken != ""))

	if req.ConfirmToken == "" {
		return s.previewUpdate(ctx, bookID, req.Updates)
	}

	var upd UpdateFields
	err := s.confirm.Redeem(ctx, kindUpdate, req.ConfirmToken, bookID, &upd, func(ctx context.Context) error {
		return s.applyUpdate(ctx, bookID, upd)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book updated", slog.String("book_id", bookID))
	return UpdateResult{BookID: bookID, Updated: true}, nil
}

func (s *Service) previewUpdate(ctx context.Context, bookID string, upd UpdateFields) (any, error) {
	g, ix, err := s.load(ctx, s.src)
	if err != nil {
		return nil, err
	}
	if len(g) == 0 {
		return nil, emptyErr()
	}
	if err := requireColumns(ix, fieldID, fieldTitle, fieldSubject); err != nil {
		return nil, err
	}
	b, err := locate(g, ix, bookID)
	if err != nil {
		return nil, err
	}

	p := b.Parent.Cells
	preview := UpdatePreview{BookID: bookID, MetaChanges: map[string]MetaChange{}}
	diff := func(name string, next *string, field string) {
		if next == nil {
			return
		}
		if cur := ix.Get(p, field); cur != *next {
			preview.MetaChanges[name] = MetaChange{From: cur, To: *next}
		}
	}
	diff("title", upd.Title, fieldTitle)
	diff("subject", upd.Subject, fieldSubject)
	diff("monthly_goal", upd.MonthlyGoal, fieldGoal)
	if upd.UnitLoad.Set {
		cur := number(ix.Get(p, fieldUnitLoad))
		if !sameNumber(cur, upd.UnitLoad.Value) {
			preview.MetaChanges["unit_load"] = MetaChange{From: cur, To: upd.UnitLoad.Value}
		}
	}
	if upd.Chapters != nil {
		preview.Chapters = &ChapterChange{
			FromCount: b.End - b.Start,
			ToCount:   max(0, len(*upd.Chapters)-1),
		}
	}

	prop, err := s.confirm.Propose(ctx, kindUpdate, bookID, upd)
	if err != nil {
		return nil, err
	}
	return confirm.NewPending(prop, preview), nil
}

func sameNumber(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) applyUpdate(ctx context.Context, bookID string, upd UpdateFields) error {
	ref := s.src
	g, ix, err := s.load(ctx, ref)
	if err != nil {
		return err
	}
	if len(g) == 0 {
		return emptyErr()
	}
	b, err := locate(g, ix, bookID)
	if err != nil {
		return err
	}

	meta := map[string]string{}
	if upd.Title != nil {
		meta[fieldTitle] = *upd.Title
	}
	if upd.Subject != nil {
		meta[fieldSubject] = *upd.Subject
	}
	if upd.MonthlyGoal != nil {
		meta[fieldGoal] = *upd.MonthlyGoal
	}
	if upd.UnitLoad.Set {
		meta[fieldUnitLoad] = formatNumber(upd.UnitLoad.Value)
	}
	if err := s.writeFields(ctx, ref, ix, b.Start, meta); err != nil {
		return err
	}

	if upd.Chapters == nil {
		return nil
	}
	chapters := *upd.Chapters
	existing := b.End - b.Start
	need := max(0, len(chapters)-1)
	switch delta := need - existing; {
	case delta > 0:
		if err := s.wb.InsertRows(ctx, ref, b.End+1, delta); err != nil {
			return err
		}
	case delta < 0:
		if err := s.wb.DeleteRows(ctx, ref, b.Start+1+need, -delta); err != nil {
			return err
		}
	}

	if len(chapters) == 0 {
		return s.writeFields(ctx, ref, ix, b.Start, blankChapter())
	}
	for i, ch := range chapters {
		if err := s.writeFields(ctx, ref, ix, b.Start+i, chapterValues(i+1, ch)); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Delete
// =============================================================================

// deletePayload is the redeemed state of a delete token.
type deletePayload struct {
	Rows int `json:"rows"`
}

// Delete previews or removes a book's whole block.
//
// Outputs:
//
//	any - confirm.Pending[DeletePreview] or DeleteResult.
//	error - NOT_FOUND, or a CONFIRM_* code on redemption.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (any, error) {
	ctx, span := tracer.Start(ctx, "books.Delete")
	defer span.End()

	bookID := strings.TrimSpace(req.BookID)
	if bookID == "" {
		return nil, api.BadRequest("book_id is required")
	}
	span.SetAttributes(attribute.String("book_id", bookID), attribute.Bool("confirm", req.ConfirmToken != ""))

	if req.ConfirmToken == "" {
		b, err := s.locateBlock(ctx, bookID)
		if err != nil {
			return nil, err
		}
		preview := DeletePreview{
			BookID:     bookID,
			DeleteRows: b.Span(),
			Range:      DeleteRange{StartRow: b.Start + 1, EndRow: b.End + 1},
		}
		prop, err := s.confirm.Propose(ctx, kindDelete, bookID, deletePayload{Rows: b.Span()})
		if err != nil {
			return nil, err
		}
		return confirm.NewPending(prop, preview), nil
	}

	var rows int
	err := s.confirm.Redeem(ctx, kindDelete, req.ConfirmToken, bookID, nil, func(ctx context.Context) error {
		b, err := s.locateBlock(ctx, bookID)
		if err != nil {
			return err
		}
		rows = b.Span()
		return s.wb.DeleteRows(ctx, s.src, b.Start, rows)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("book deleted", slog.String("book_id", bookID), slog.Int("rows", rows))
	return DeleteResult{DeletedRows: rows}, nil
}

// locateBlock loads the books sheet and finds the block of bookID.
func (s *Service) locateBlock(ctx context.Context, bookID string) (rowblock.Block, error) {
	g, ix, err := s.load(ctx, s.src)
	if err != nil {
		return rowblock.Block{}, err
	}
	if len(g) == 0 {
		return rowblock.Block{}, emptyErr()
	}
	if err := requireColumns(ix, fieldID); err != nil {
		return rowblock.Block{}, err
	}
	return locate(g, ix, bookID)
}
