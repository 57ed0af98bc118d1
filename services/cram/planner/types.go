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
	"bytes"
	"encoding/json"
)

// =============================================================================
// Requests
// =============================================================================

// Target names the planner spreadsheet directly or through a student.
type Target struct {
	SpreadsheetID string `json:"spreadsheet_id,omitempty" form:"spreadsheet_id"`
	StudentID     string `json:"student_id,omitempty" form:"student_id"`
}

// DatesSetRequest is the input of planner.dates.set.
type DatesSetRequest struct {
	Target
	StartDate string `json:"start_date" form:"start_date"`
}

// PlanSetRequest is the input of planner.plan.set.
type PlanSetRequest struct {
	Target
	WeekIndex int    `json:"week_index" form:"week_index"`
	PlanText  string `json:"plan_text" form:"plan_text"`
	Row       int    `json:"row,omitempty" form:"row"`
	BookID    string `json:"book_id,omitempty" form:"book_id"`
	Overwrite bool   `json:"overwrite,omitempty" form:"overwrite"`
}

// MonthlyFilterRequest is the input of planner.monthly.filter.
type MonthlyFilterRequest struct {
	Target
	Year  Text `json:"year" form:"year"`
	Month Text `json:"month" form:"month"`
}

// Text accepts a JSON string or number and keeps its text.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

// =============================================================================
// Responses
// =============================================================================

// IDItem is one row of the weekly sheet's book list.
type IDItem struct {
	Row           int    `json:"row"`
	RawCode       string `json:"raw_code"`
	MonthCode     *int   `json:"month_code"`
	BookID        string `json:"book_id"`
	Subject       string `json:"subject"`
	Title         string `json:"title"`
	GuidelineNote string `json:"guideline_note"`
}

// IDsResult is the output of planner.ids_list.
type IDsResult struct {
	Count int      `json:"count"`
	Items []IDItem `json:"items"`
}

// DatesResult is the output of planner.dates.get.
type DatesResult struct {
	WeekStarts []string `json:"week_starts"`
}

// DatesSetResult is the output of planner.dates.set.
type DatesSetResult struct {
	Updated   bool   `json:"updated"`
	StartDate string `json:"start_date"`
}

// MetricItem is one row of a week's metric columns.
type MetricItem struct {
	Row             int      `json:"row"`
	WeeklyMinutes   *float64 `json:"weekly_minutes"`
	UnitLoad        *float64 `json:"unit_load"`
	GuidelineAmount *float64 `json:"guideline_amount"`
}

// MetricWeek is one week of planner.metrics.get.
type MetricWeek struct {
	WeekIndex   int          `json:"week_index"`
	ColumnTime  string       `json:"column_time"`
	ColumnUnit  string       `json:"column_unit"`
	ColumnGuide string       `json:"column_guide"`
	Items       []MetricItem `json:"items"`
}

// MetricsResult is the output of planner.metrics.get.
type MetricsResult struct {
	Weeks []MetricWeek `json:"weeks"`
}

// PlanItem is one plan cell.
type PlanItem struct {
	Row      int    `json:"row"`
	PlanText string `json:"plan_text"`
}

// PlanWeek is one week of planner.plan.get.
type PlanWeek struct {
	WeekIndex int        `json:"week_index"`
	Column    string     `json:"column"`
	Items     []PlanItem `json:"items"`
}

// PlanResult is the output of planner.plan.get.
type PlanResult struct {
	Weeks []PlanWeek `json:"weeks"`
}

// PlanSetResult is the output of planner.plan.set.
type PlanSetResult struct {
	Updated bool   `json:"updated"`
	Cell    string `json:"cell"`
}

// WeekActual is one week's actual text in the monthly sheet.
type WeekActual struct {
	Index  int    `json:"index"`
	Actual string `json:"actual"`
}

// MonthlyItem is one matching row of the monthly sheet.
type MonthlyItem struct {
	Row             int          `json:"row"`
	RawCode         string       `json:"raw_code"`
	MonthCode       int          `json:"month_code"`
	Year            int          `json:"year"`
	Month           int          `json:"month"`
	BookID          string       `json:"book_id"`
	Subject         string       `json:"subject"`
	Title           string       `json:"title"`
	GuidelineNote   string       `json:"guideline_note"`
	UnitLoad        *float64     `json:"unit_load"`
	MonthlyMinutes  *float64     `json:"monthly_minutes"`
	GuidelineAmount *float64     `json:"guideline_amount"`
	Weeks           []WeekActual `json:"weeks"`
}

// MonthlyResult is the output of planner.monthly.filter.
type MonthlyResult struct {
	Year  int           `json:"year"`
	Month int           `json:"month"`
	Items []MonthlyItem `json:"items"`
	Count int           `json:"count"`
}
