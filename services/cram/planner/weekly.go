// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-openapi/strfmt"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
)

// IDsList reads the book list in A..D from row 4 down to the first empty
// A cell.
func (s *Service) IDsList(ctx context.Context, t Target) (IDsResult, error) {
	ctx, span := tracer.Start(ctx, "planner.IDsList")
	defer span.End()

	_, g, err := s.weeklySheet(ctx, t)
	if err != nil {
		return IDsResult{}, err
	}
	items := bookRows(g)
	span.SetAttributes(attribute.Int("count", len(items)))
	return IDsResult{Count: len(items), Items: items}, nil
}

func bookRows(g sheets.Grid) []IDItem {
	items := []IDItem{}
	for row := FirstRow; row <= LastRow; row++ {
		raw := g.Cell(row-1, 0)
		if raw == "" {
			break
		}
		code, id := ParseBookCode(raw)
		items = append(items, IDItem{
			Row:           row,
			RawCode:       raw,
			MonthCode:     code,
			BookID:        id,
			Subject:       g.Cell(row-1, 1),
			Title:         g.Cell(row-1, 2),
			GuidelineNote: g.Cell(row-1, 3),
		})
	}
	return items
}

// DatesGet reads the five week start cells.
func (s *Service) DatesGet(ctx context.Context, t Target) (DatesResult, error) {
	ctx, span := tracer.Start(ctx, "planner.DatesGet")
	defer span.End()

	_, g, err := s.weeklySheet(ctx, t)
	if err != nil {
		return DatesResult{}, err
	}
	starts := make([]string, 0, Weeks)
	for _, addr := range WeekStartCells {
		starts = append(starts, cell(g, addr))
	}
	return DatesResult{WeekStarts: starts}, nil
}

// DatesSet writes the first week's start date. The later weeks are
// formulas in the template and follow it.
//
// Outputs:
//
//	error - BAD_REQUEST without a date, BAD_DATE unless it is YYYY-MM-DD.
func (s *Service) DatesSet(ctx context.Context, req DatesSetRequest) (DatesSetResult, error) {
	ctx, span := tracer.Start(ctx, "planner.DatesSet")
	defer span.End()

	raw := strings.TrimSpace(req.StartDate)
	if raw == "" {
		return DatesSetResult{}, api.BadRequest("start_date is required (YYYY-MM-DD)")
	}
	var d strfmt.Date
	if err := d.UnmarshalText([]byte(raw)); err != nil || time.Time(d).IsZero() {
		return DatesSetResult{}, api.Errorf(api.CodeBadDate, "invalid start_date %q", raw)
	}

	ref, _, err := s.weeklySheet(ctx, req.Target)
	if err != nil {
		return DatesSetResult{}, err
	}
	r, c, _ := sheets.ParseCell(WeekStartCells[0])
	if err := s.wb.WriteCells(ctx, ref, r, c, [][]string{{d.String()}}); err != nil {
		return DatesSetResult{}, err
	}

	span.SetAttributes(attribute.String("start_date", d.String()))
	s.logger.Info("planner start date set",
		slog.String("spreadsheet_id", ref.SpreadsheetID),
		slog.String("start_date", d.String()),
	)
	return DatesSetResult{Updated: true, StartDate: d.String()}, nil
}

// MetricsGet reads time, unit and guide columns of every week, rows 4..30.
func (s *Service) MetricsGet(ctx context.Context, t Target) (MetricsResult, error) {
	ctx, span := tracer.Start(ctx, "planner.MetricsGet")
	defer span.End()

	_, g, err := s.weeklySheet(ctx, t)
	if err != nil {
		return MetricsResult{}, err
	}
	res := MetricsResult{Weeks: make([]MetricWeek, 0, Weeks)}
	for wi, w := range WeekLayout {
		week := MetricWeek{
			WeekIndex:   wi + 1,
			ColumnTime:  w.Time,
			ColumnUnit:  w.Unit,
			ColumnGuide: w.Guide,
			Items:       make([]MetricItem, 0, LastRow-FirstRow+1),
		}
		for row := FirstRow; row <= LastRow; row++ {
			week.Items = append(week.Items, MetricItem{
				Row:             row,
				WeeklyMinutes:   number(colCell(g, w.Time, row)),
				UnitLoad:        number(colCell(g, w.Unit, row)),
				GuidelineAmount: number(colCell(g, w.Guide, row)),
			})
		}
		res.Weeks = append(res.Weeks, week)
	}
	return res, nil
}

// PlanGet reads the plan column of every week, rows 4..30.
func (s *Service) PlanGet(ctx context.Context, t Target) (PlanResult, error) {
	ctx, span := tracer.Start(ctx, "planner.PlanGet")
	defer span.End()

	_, g, err := s.weeklySheet(ctx, t)
	if err != nil {
		return PlanResult{}, err
	}
	res := PlanResult{Weeks: make([]PlanWeek, 0, Weeks)}
	for wi, w := range WeekLayout {
		week := PlanWeek{WeekIndex: wi + 1, Column: w.Plan, Items: make([]PlanItem, 0, LastRow-FirstRow+1)}
		for row := FirstRow; row <= LastRow; row++ {
			week.Items = append(week.Items, PlanItem{Row: row, PlanText: colCell(g, w.Plan, row)})
		}
		res.Weeks = append(res.Weeks, week)
	}
	return res, nil
}

// PlanSet writes one plan cell.
//
// Description:
//
//	The row is Row when positive, otherwise the row whose book code
//	carries BookID. The write requires a non-empty A cell and a non-empty
//	weekly time cell for the week, and refuses to replace existing text
//	unless Overwrite is set.
//
// Outputs:
//
//	PlanSetResult - The written A1 cell.
//	error - BAD_REQUEST, TOO_LONG, ROW_NOT_FOUND, PRECONDITION_A_EMPTY,
//	PRECONDITION_TIME_EMPTY or ALREADY_EXISTS.
func (s *Service) PlanSet(ctx context.Context, req PlanSetRequest) (PlanSetResult, error) {
	ctx, span := tracer.Start(ctx, "planner.PlanSet")
	defer span.End()

	if req.WeekIndex < 1 || req.WeekIndex > Weeks {
		return PlanSetResult{}, api.BadRequest("week_index must be 1..%d", Weeks)
	}
	if n := utf8.RuneCountInString(req.PlanText); n > MaxPlanText {
		return PlanSetResult{}, api.Errorf(api.CodeTooLong, "plan_text must be <= %d chars", MaxPlanText).
			WithDetails(map[string]any{"length": n, "max": MaxPlanText})
	}

	ref, g, err := s.weeklySheet(ctx, req.Target)
	if err != nil {
		return PlanSetResult{}, err
	}

	row := req.Row
	if row <= 0 && req.BookID != "" {
		want := strings.TrimSpace(req.BookID)
		for _, it := range bookRows(g) {
			if it.BookID == want {
				row = it.Row
				break
			}
		}
	}
	if row <= 0 {
		return PlanSetResult{}, api.Errorf(api.CodeRowNotFound, "row or book_id did not match any row")
	}

	w := WeekLayout[req.WeekIndex-1]
	if g.Cell(row-1, 0) == "" {
		return PlanSetResult{}, api.Errorf(api.CodePreconditionAEmpty, "A%d must not be empty", row)
	}
	if colCell(g, w.Time, row) == "" {
		return PlanSetResult{}, api.Errorf(api.CodePreconditionTimeEmpty, "weekly_minutes cell (%s%d) must not be empty", w.Time, row)
	}
	addr := w.Plan + strconv.Itoa(row)
	if !req.Overwrite && colCell(g, w.Plan, row) != "" {
		return PlanSetResult{}, api.Errorf(api.CodeAlreadyExists, "cell %s already has text; set overwrite=true to replace", addr)
	}

	if err := s.wb.WriteCells(ctx, ref, row-1, sheets.ColumnIndex(w.Plan), [][]string{{req.PlanText}}); err != nil {
		return PlanSetResult{}, err
	}
	span.SetAttributes(attribute.String("cell", addr), attribute.Int("week_index", req.WeekIndex))
	s.logger.Info("planner plan set",
		slog.String("spreadsheet_id", ref.SpreadsheetID),
		slog.String("cell", addr),
		slog.Bool("overwrite", req.Overwrite),
	)
	return PlanSetResult{Updated: true, Cell: addr}, nil
}
