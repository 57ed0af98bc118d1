// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner reads and writes a student's planner spreadsheet: the
// weekly management sheet (book list, week start dates, per-week metrics
// and plan cells) and the monthly management sheet.
//
// Cell positions are fixed by the planner template. Rows 4..30 hold one
// book each; every week owns four adjacent columns.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
)

var tracer = otel.Tracer("cram.planner")

// Template geometry (1-based sheet rows).
const (
	FirstRow    = 4
	LastRow     = 30
	Weeks       = 5
	MaxPlanText = 52
)

// WeekColumns are the column labels of one week.
type WeekColumns struct {
	Time  string
	Unit  string
	Guide string
	Plan  string
}

// WeekLayout is the column layout of weeks 1..5.
var WeekLayout = [Weeks]WeekColumns{
	{Time: "E", Unit: "F", Guide: "G", Plan: "H"},
	{Time: "M", Unit: "N", Guide: "O", Plan: "P"},
	{Time: "U", Unit: "V", Guide: "W", Plan: "X"},
	{Time: "AC", Unit: "AD", Guide: "AE", Plan: "AF"},
	{Time: "AK", Unit: "AL", Guide: "AM", Plan: "AN"},
}

// WeekStartCells hold the start date of each week.
var WeekStartCells = [Weeks]string{"D1", "L1", "T1", "AB1", "AJ1"}

// bookCodeRe splits a book code cell into month code and book id.
var bookCodeRe = regexp.MustCompile(`^(\d{3,4})(.+)$`)

// PlannerResolver finds a student's planner spreadsheet.
type PlannerResolver interface {
	PlannerID(ctx context.Context, studentID string) (string, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	// Workbook is the spreadsheet backend. Required.
	Workbook sheets.Workbook

	// Students resolves student ids. May be nil, in which case requests
	// must name the spreadsheet.
	Students PlannerResolver

	// WeeklySheet is the preferred weekly sheet name.
	WeeklySheet string

	// WeeklyAlternates are tried after WeeklySheet.
	WeeklyAlternates []string

	// MonthlySheet is the monthly sheet name.
	MonthlySheet string

	// Logger may be nil.
	Logger *slog.Logger
}

// Service implements the planner operations.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	wb         sheets.Workbook
	students   PlannerResolver
	weekly     string
	alternates []string
	monthly    string
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	if d.Workbook == nil {
		panic("planner.NewService: Workbook is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		wb:         d.Workbook,
		students:   d.Students,
		weekly:     d.WeeklySheet,
		alternates: d.WeeklyAlternates,
		monthly:    d.MonthlySheet,
		logger:     d.Logger,
	}
}

// =============================================================================
// Sheet Resolution
// =============================================================================

// spreadsheet resolves the target's spreadsheet id.
func (s *Service) spreadsheet(ctx context.Context, t Target) (string, error) {
	if id := strings.TrimSpace(t.SpreadsheetID); id != "" {
		return id, nil
	}
	sid := strings.TrimSpace(t.StudentID)
	if sid == "" {
		return "", api.BadRequest("spreadsheet_id or student_id is required")
	}
	if s.students == nil {
		return "", api.NotFound("planner not found for student %q", sid)
	}
	return s.students.PlannerID(ctx, sid)
}

// weeklySheet opens the weekly sheet.
//
// Description:
//
//	The configured name wins, then the alternates in order, then the first
//	sheet whose A4 looks like a book code.
func (s *Service) weeklySheet(ctx context.Context, t Target) (sheets.Ref, sheets.Grid, error) {
	ctx, span := tracer.Start(ctx, "planner.weeklySheet")
	defer span.End()

	id, err := s.spreadsheet(ctx, t)
	if err != nil {
		return sheets.Ref{}, nil, err
	}
	names, err := s.wb.ListSheets(ctx, id)
	if err != nil {
		return sheets.Ref{}, nil, err
	}
	has := make(map[string]bool, len(names))
	for _, n := range names {
		has[n] = true
	}

	for _, want := range append([]string{s.weekly}, s.alternates...) {
		if want != "" && has[want] {
			ref := sheets.Ref{SpreadsheetID: id, Sheet: want}
			g, err := s.wb.ReadSheet(ctx, ref)
			if err != nil {
				return ref, nil, err
			}
			span.SetAttributes(attribute.String("sheet", want))
			return ref, g, nil
		}
	}

	for _, n := range names {
		ref := sheets.Ref{SpreadsheetID: id, Sheet: n}
		g, err := s.wb.ReadSheet(ctx, ref)
		if err != nil {
			return ref, nil, err
		}
		if bookCodeRe.MatchString(g.Cell(FirstRow-1, 0)) {
			span.SetAttributes(attribute.String("sheet", n), attribute.Bool("scanned", true))
			s.logger.Debug("weekly sheet found by scan", slog.String("spreadsheet_id", id), slog.String("sheet", n))
			return ref, g, nil
		}
	}
	return sheets.Ref{}, nil, api.NotFound("weekly planner sheet not found in %s", id)
}

// monthlySheet opens the monthly sheet by name.
func (s *Service) monthlySheet(ctx context.Context, t Target) (sheets.Grid, error) {
	id, err := s.spreadsheet(ctx, t)
	if err != nil {
		return nil, err
	}
	g, err := s.wb.ReadSheet(ctx, sheets.Ref{SpreadsheetID: id, Sheet: s.monthly})
	if err != nil {
		return nil, fmt.Errorf("monthly sheet %q: %w", s.monthly, err)
	}
	return g, nil
}

// =============================================================================
// Cell Helpers
// =============================================================================

// cell reads an A1 address from g.
func cell(g sheets.Grid, addr string) string {
	r, c, err := sheets.ParseCell(addr)
	if err != nil {
		return ""
	}
	return g.Cell(r, c)
}

// colCell reads column label at 1-based row.
func colCell(g sheets.Grid, label string, row int) string {
	return g.Cell(row-1, sheets.ColumnIndex(label))
}

// ParseBookCode splits "2601gEC001" into month code 2601 and book id
// "gEC001". A cell without a leading 3-4 digit code is all book id.
func ParseBookCode(raw string) (*int, string) {
	raw = strings.TrimSpace(raw)
	m := bookCodeRe.FindStringSubmatch(raw)
	if m == nil {
		return nil, raw
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, m[2]
	}
	return &n, m[2]
}

// number parses a display value, nil for blanks and non-numbers.
func number(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
