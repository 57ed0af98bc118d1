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
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
)

// Monthly sheet columns (0-based), spanning A..R.
const (
	mColCode     = 0
	mColYear     = 1
	mColMonth    = 2
	mColBookID   = 6
	mColSubject  = 7
	mColTitle    = 8
	mColNote     = 9
	mColUnitLoad = 10
	mColMinutes  = 11
	mColGuide    = 12
	mColWeek1    = 13
)

// NormalizeYear maps a 2 or 4 digit year to its two-digit form: 2025 and
// 25 both give 25.
func NormalizeYear(s string) (int, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	switch n := int(f); {
	case n >= 2000:
		return n - 2000, true
	case n >= 0 && n <= 99:
		return n, true
	default:
		return 0, false
	}
}

// MonthlyFilter returns the monthly sheet rows of one year and month.
//
// Description:
//
//	Rows 2.. are read across A..R. A row matches when B equals the two
//	digit year and C the month. Fully blank A..C rows are skipped.
func (s *Service) MonthlyFilter(ctx context.Context, req MonthlyFilterRequest) (MonthlyResult, error) {
	ctx, span := tracer.Start(ctx, "planner.MonthlyFilter")
	defer span.End()

	yy, ok := NormalizeYear(string(req.Year))
	mm, err := strconv.Atoi(strings.TrimSpace(string(req.Month)))
	if !ok || err != nil || mm < 1 || mm > 12 {
		return MonthlyResult{}, api.BadRequest("year (2 or 4 digits) and month (1..12) are required")
	}

	g, err := s.monthlySheet(ctx, req.Target)
	if err != nil {
		return MonthlyResult{}, err
	}

	res := MonthlyResult{Year: yy, Month: mm, Items: []MonthlyItem{}}
	for i := range g.From(1) {
		a, b, c := g.Cell(i, mColCode), g.Cell(i, mColYear), g.Cell(i, mColMonth)
		if a == "" && b == "" && c == "" {
			continue
		}
		by, errY := strconv.Atoi(b)
		cm, errM := strconv.Atoi(c)
		if errY != nil || errM != nil || by != yy || cm != mm {
			continue
		}
		item := MonthlyItem{
			Row:             i + 1,
			RawCode:         a,
			MonthCode:       by*10 + cm,
			Year:            by,
			Month:           cm,
			BookID:          g.Cell(i, mColBookID),
			Subject:         g.Cell(i, mColSubject),
			Title:           g.Cell(i, mColTitle),
			GuidelineNote:   g.Cell(i, mColNote),
			UnitLoad:        number(g.Cell(i, mColUnitLoad)),
			MonthlyMinutes:  number(g.Cell(i, mColMinutes)),
			GuidelineAmount: number(g.Cell(i, mColGuide)),
			Weeks:           make([]WeekActual, 0, Weeks),
		}
		for w := range Weeks {
			item.Weeks = append(item.Weeks, WeekActual{Index: w + 1, Actual: g.Cell(i, mColWeek1+w)})
		}
		res.Items = append(res.Items, item)
	}
	res.Count = len(res.Items)
	span.SetAttributes(attribute.Int("count", res.Count))
	return res, nil
}
