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
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/columns"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/rowblock"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
)

// findDebugTop is how many candidates find-debug logging prints.
const findDebugTop = 5

// Find ranks books against a free-text query.
//
// Description:
//
//	One candidate is built per book block (parent row): the id is the key,
//	the title the primary text, the subject the category and the alias
//	column the alternative titles. Ranking is search.Find.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	req - Query, optional limit and source override.
//
// Outputs:
//
//	FindResult - Candidates is never nil.
//	error - BAD_HEADER when id, title or subject columns are missing.
func (s *Service) Find(ctx context.Context, req FindRequest) (FindResult, error) {
	ctx, span := tracer.Start(ctx, "books.Find")
	defer span.End()

	res := FindResult{Query: req.Query, Candidates: []Candidate{}}
	g, ix, err := s.load(ctx, s.ref(req.Source))
	if err != nil {
		return res, err
	}
	if len(g) == 0 {
		return res, nil
	}
	if err := requireColumns(ix, fieldID, fieldTitle, fieldSubject); err != nil {
		return res, err
	}

	var cands []search.Candidate
	for b := range rowblock.Group(g.From(1), ix.Col(fieldID)) {
		p := b.Parent.Cells
		cands = append(cands, search.Candidate{
			Key:      b.Key,
			Primary:  ix.Get(p, fieldTitle),
			Category: ix.Get(p, fieldSubject),
			Aliases:  ParseAliases(ix.Get(p, fieldAliases)),
		})
	}

	found := search.Find(req.Query, cands, s.search, req.Limit)
	for _, c := range found.Candidates {
		res.Candidates = append(res.Candidates, toCandidate(c))
	}
	if len(res.Candidates) > 0 {
		top := res.Candidates[0]
		res.Top = &top
	}
	res.Confidence = found.Confidence

	span.SetAttributes(
		attribute.Int("books", len(cands)),
		attribute.Int("candidates", len(res.Candidates)),
	)
	s.observe("books", len(res.Candidates))
	if s.findDebug {
		s.logFindDebug(req.Query, res.Candidates)
	}
	return res, nil
}

func toCandidate(c search.Scored) Candidate {
	return Candidate{BookID: c.Key, Title: c.Title, Subject: c.Category, Score: c.Score, Reason: c.Reason}
}

func (s *Service) logFindDebug(query string, cands []Candidate) {
	top := cands[:min(findDebugTop, len(cands))]
	for i, c := range top {
		s.logger.Info("find debug",
			slog.String("query", query),
			slog.Int("rank", i+1),
			slog.String("book_id", c.BookID),
			slog.String("title", c.Title),
			slog.Float64("score", c.Score),
			slog.String("reason", string(c.Reason)),
		)
	}
}

// Get returns one book (BookID) or several (BookIDs).
//
// Description:
//
//	A single lookup stops reading at the block after the target. A multi
//	lookup scans the sheet once and answers in request order, omitting
//	unknown ids.
//
// Outputs:
//
//	GetResult - Book for a single id, Books for a list.
//	error - BAD_REQUEST without ids, EMPTY for an empty sheet, NOT_FOUND
//	for an unknown single id, BAD_HEADER for missing columns.
func (s *Service) Get(ctx context.Context, req GetRequest) (GetResult, error) {
	ctx, span := tracer.Start(ctx, "books.Get")
	defer span.End()

	ids := nonEmpty(req.BookIDs)
	single := strings.TrimSpace(req.BookID)
	if len(ids) == 0 && single == "" {
		return GetResult{}, api.BadRequest("book_id or book_ids is required")
	}

	g, ix, err := s.load(ctx, s.ref(req.Source))
	if err != nil {
		return GetResult{}, err
	}
	if len(g) == 0 {
		return GetResult{}, emptyErr()
	}
	if err := requireColumns(ix, fieldID, fieldTitle, fieldSubject); err != nil {
		return GetResult{}, err
	}

	if len(ids) > 0 {
		blocks := rowblock.Collect(g[1:], ix.Col(fieldID), ids)
		books := make([]Book, 0, len(blocks))
		for _, b := range blocks {
			books = append(books, decodeBook(b, ix))
		}
		span.SetAttributes(attribute.Int("requested", len(ids)), attribute.Int("found", len(books)))
		return GetResult{Books: &books}, nil
	}

	b, err := locate(g, ix, single)
	if err != nil {
		return GetResult{}, err
	}
	book := decodeBook(b, ix)
	return GetResult{Book: &book}, nil
}

func nonEmpty(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// matcher is one resolved where or contains condition.
type matcher struct {
	col      int
	want     string
	contains bool
}

// Filter returns the books whose block satisfies every condition.
//
// Description:
//
//	Condition keys are field names or raw headers. A where condition
//	holds when some row of the block has an equal normalized value; a
//	contains condition when some row's normalized value contains it. A key
//	that resolves to no column never matches. A positive limit caps the
//	result; otherwise it is unlimited.
func (s *Service) Filter(ctx context.Context, req FilterRequest) (FilterResult, error) {
	ctx, span := tracer.Start(ctx, "books.Filter")
	defer span.End()

	res := FilterResult{Books: []Book{}}
	if req.Limit > 0 {
		limit := req.Limit
		res.Limit = &limit
	}

	g, ix, err := s.load(ctx, s.ref(req.Source))
	if err != nil {
		return res, err
	}
	if len(g) == 0 {
		return res, nil
	}
	if err := requireColumns(ix, fieldID); err != nil {
		return res, err
	}

	matchers := make([]matcher, 0, len(req.Where)+len(req.Contains))
	for k, v := range req.Where {
		matchers = append(matchers, matcher{col: ix.Lookup(k, s.aliases), want: search.Normalize(v)})
	}
	for k, v := range req.Contains {
		matchers = append(matchers, matcher{col: ix.Lookup(k, s.aliases), want: search.Normalize(v), contains: true})
	}

	for b := range rowblock.Group(g.From(1), ix.Col(fieldID)) {
		if !blockMatches(b, matchers) {
			continue
		}
		res.Books = append(res.Books, decodeBook(b, ix))
		if req.Limit > 0 && len(res.Books) >= req.Limit {
			break
		}
	}
	res.Count = len(res.Books)
	span.SetAttributes(attribute.Int("conditions", len(matchers)), attribute.Int("count", res.Count))
	return res, nil
}

func blockMatches(b rowblock.Block, matchers []matcher) bool {
	rows := b.Rows()
	for _, m := range matchers {
		if m.col == columns.Missing {
			return false
		}
		hit := false
		for _, r := range rows {
			v := rowblock.Cell(r.Cells, m.col)
			if v == "" {
				continue
			}
			nv := search.Normalize(v)
			if (m.contains && strings.Contains(nv, m.want)) || (!m.contains && nv == m.want) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}
