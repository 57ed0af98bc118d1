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
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/columns"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/rowblock"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
)

// List returns the non-blank rows in sheet order, capped by a positive
// limit.
func (s *Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	ctx, span := tracer.Start(ctx, "students.List")
	defer span.End()

	res := ListResult{Students: []Student{}}
	g, ix, err := s.load(ctx, s.ref(req.Source))
	if err != nil {
		return res, err
	}
	for _, row := range g.From(1) {
		if rowblock.IsBlank(row) {
			continue
		}
		res.Students = append(res.Students, decode(row, ix))
		if req.Limit > 0 && len(res.Students) >= req.Limit {
			break
		}
	}
	res.Count = len(res.Students)
	span.SetAttributes(attribute.Int("count", res.Count))
	return res, nil
}

// Find ranks students against a free-text query.
//
// The id is the key, the name the primary text, the grade the category
// and the kana column the only alias. Rows with neither id nor name are
// skipped. A sheet without an id or name column is BAD_HEADER.
func (s *Service) Find(ctx context.Context, req FindRequest) (FindResult, error) {
	ctx, span := tracer.Start(ctx, "students.Find")
	defer span.End()

	res := FindResult{Query: req.Query, Candidates: []Candidate{}}
	if strings.TrimSpace(req.Query) == "" {
		return res, api.BadRequest("query is required")
	}
	g, ix, err := s.load(ctx, s.ref(req.Source))
	if err != nil {
		return res, err
	}
	if len(g) == 0 {
		return res, nil
	}
	if err := requireColumns(ix, fieldID, fieldName); err != nil {
		return res, err
	}
	if len(g) < 2 {
		return res, nil
	}

	var cands []search.Candidate
	for _, row := range g.From(1) {
		id, name := ix.Get(row, fieldID), ix.Get(row, fieldName)
		if id == "" && name == "" {
			continue
		}
		c := search.Candidate{Key: id, Primary: name, Category: ix.Get(row, fieldGrade)}
		if kana := ix.Get(row, fieldKana); kana != "" {
			c.Aliases = []string{kana}
		}
		cands = append(cands, c)
	}

	found := search.Find(req.Query, cands, s.search, req.Limit)
	for _, c := range found.Candidates {
		res.Candidates = append(res.Candidates, Candidate{
			StudentID: c.Key, Name: c.Title, Grade: c.Category, Score: c.Score, Reason: c.Reason,
		})
	}
	if len(res.Candidates) > 0 {
		top := res.Candidates[0]
		res.Top = &top
	}
	res.Confidence = found.Confidence

	span.SetAttributes(attribute.Int("students", len(cands)), attribute.Int("candidates", len(res.Candidates)))
	s.observe("students", len(res.Candidates))
	if s.findDebug {
		for i, c := range res.Candidates[:min(5, len(res.Candidates))] {
			s.logger.Info("find debug",
				slog.String("query", req.Query),
				slog.Int("rank", i+1),
				slog.String("student_id", c.StudentID),
				slog.String("name", c.Name),
				slog.Float64("score", c.Score),
				slog.String("reason", string(c.Reason)),
			)
		}
	}
	return res, nil
}

// Get returns one student (StudentID) or several (StudentIDs, in request
// order, unknown ids omitted).
func (s *Service) Get(ctx context.Context, req GetRequest) (GetResult, error) {
	ctx, span := tracer.Start(ctx, "students.Get")
	defer span.End()

	var ids []string
	for _, id := range req.StudentIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	single := strings.TrimSpace(req.StudentID)
	if len(ids) == 0 && single == "" {
		return GetResult{}, api.BadRequest("student_id or student_ids is required")
	}

	g, ix, err := s.loadKeyed(ctx, s.ref(req.Source))
	if err != nil {
		return GetResult{}, err
	}

	if len(ids) > 0 {
		blocks := rowblock.Collect(g[1:], ix.Col(fieldID), ids)
		out := make([]Student, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, decode(b.Parent.Cells, ix))
		}
		span.SetAttributes(attribute.Int("requested", len(ids)), attribute.Int("found", len(out)))
		return GetResult{Students: &out}, nil
	}

	r, err := locate(g, ix, single)
	if err != nil {
		return GetResult{}, err
	}
	st := decode(g.Row(r), ix)
	return GetResult{Student: &st}, nil
}

// Filter returns the rows satisfying every where (normalized equality)
// and contains (normalized substring) condition. A key that resolves to
// no column never matches.
func (s *Service) Filter(ctx context.Context, req FilterRequest) (ListResult, error) {
	ctx, span := tracer.Start(ctx, "students.Filter")
	defer span.End()

	res := ListResult{Students: []Student{}}
	g, ix, err := s.load(ctx, s.ref(req.Source))
	if err != nil {
		return res, err
	}
	if len(g) < 2 {
		return res, nil
	}

	type cond struct {
		col      int
		want     string
		contains bool
	}
	conds := make([]cond, 0, len(req.Where)+len(req.Contains))
	for k, v := range req.Where {
		conds = append(conds, cond{col: s.headerColumn(ix, k), want: search.Normalize(v)})
	}
	for k, v := range req.Contains {
		conds = append(conds, cond{col: s.headerColumn(ix, k), want: search.Normalize(v), contains: true})
	}

rows:
	for _, row := range g.From(1) {
		if rowblock.IsBlank(row) {
			continue
		}
		for _, c := range conds {
			if c.col == columns.Missing {
				continue rows
			}
			got := search.Normalize(rowblock.Cell(row, c.col))
			if c.contains && !strings.Contains(got, c.want) || !c.contains && got != c.want {
				continue rows
			}
		}
		res.Students = append(res.Students, decode(row, ix))
		if req.Limit > 0 && len(res.Students) >= req.Limit {
			break
		}
	}
	res.Count = len(res.Students)
	span.SetAttributes(attribute.Int("conditions", len(conds)), attribute.Int("count", res.Count))
	return res, nil
}
