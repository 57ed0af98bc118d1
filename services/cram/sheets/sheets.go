// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sheets is the workbook abstraction the CRAM services read and
// write through.
//
// A workbook is a spreadsheet file holding named sheets of display-value
// grids. Rows and columns are 0-based everywhere in this package: grid row 0
// is sheet row 1 (the header row) and column 0 is column A. Backends are
// in-memory, blob-backed (local directory, GCS or S3, CSV per sheet) and
// the Google Sheets API.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrSpreadsheetNotFound is returned when the spreadsheet id is unknown.
	ErrSpreadsheetNotFound = errors.New("spreadsheet not found")

	// ErrSheetNotFound is returned when the named sheet does not exist.
	ErrSheetNotFound = errors.New("sheet not found")

	// ErrOutOfRange is returned for row operations past the end of a sheet.
	ErrOutOfRange = errors.New("row range out of bounds")
)

// =============================================================================
// Types
// =============================================================================

// Ref addresses one sheet. An empty Sheet means the first sheet.
type Ref struct {
	SpreadsheetID string
	Sheet         string
}

// String renders the ref for logs.
func (r Ref) String() string {
	if r.Sheet == "" {
		return r.SpreadsheetID + "!<first>"
	}
	return r.SpreadsheetID + "!" + r.Sheet
}

// Grid is the used range of a sheet as display values. Rows may be ragged.
type Grid [][]string

// Cell returns the trimmed value at (row, col), or "" outside the grid.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return strings.TrimSpace(g[row][col])
}

// Row returns row, or nil outside the grid.
func (g Grid) Row(row int) []string {
	if row < 0 || row >= len(g) {
		return nil
	}
	return g[row]
}

// Header returns row 0.
func (g Grid) Header() []string { return g.Row(0) }

// From yields the rows starting at row with their grid indices.
func (g Grid) From(row int) iter.Seq2[int, []string] {
	return func(yield func(int, []string) bool) {
		for i := max(row, 0); i < len(g); i++ {
			if !yield(i, g[i]) {
				return
			}
		}
	}
}

// Workbook reads and writes sheets of one or more spreadsheets.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Individual calls are
// atomic; sequences of calls are not.
type Workbook interface {
	// ListSheets returns sheet names in workbook order.
	ListSheets(ctx context.Context, spreadsheetID string) ([]string, error)

	// ReadSheet returns the used range of the sheet.
	ReadSheet(ctx context.Context, ref Ref) (Grid, error)

	// WriteCells writes values with their top-left corner at (row, col).
	WriteCells(ctx context.Context, ref Ref, row, col int, values [][]string) error

	// InsertRows inserts n empty rows before row at.
	InsertRows(ctx context.Context, ref Ref, at, n int) error

	// DeleteRows removes n rows starting at row start.
	DeleteRows(ctx context.Context, ref Ref, start, n int) error

	// AppendRows adds rows after the last row of the used range.
	AppendRows(ctx context.Context, ref Ref, rows [][]string) error
}

// =============================================================================
// A1 Notation
// =============================================================================

// ColumnIndex converts a column label ("A", "AC") to a 0-based index.
// Returns -1 for an invalid label.
func ColumnIndex(label string) int {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return -1
	}
	n := 0
	for _, r := range label {
		if r < 'A' || r > 'Z' {
			return -1
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1
}

// ColumnName converts a 0-based column index to its label.
func ColumnName(col int) string {
	if col < 0 {
		return ""
	}
	var b []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// ParseCell converts an A1 reference ("D1") to 0-based (row, col).
func ParseCell(a1 string) (row, col int, err error) {
	a1 = strings.ToUpper(strings.TrimSpace(a1))
	i := strings.IndexFunc(a1, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return 0, 0, fmt.Errorf("ParseCell: invalid reference %q", a1)
	}
	col = ColumnIndex(a1[:i])
	n, err := strconv.Atoi(a1[i:])
	if col < 0 || err != nil || n < 1 {
		return 0, 0, fmt.Errorf("ParseCell: invalid reference %q", a1)
	}
	return n - 1, col, nil
}

// CellName converts 0-based (row, col) to A1 notation.
func CellName(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// A1Range renders a rectangular range on sheet, quoting the sheet name.
func A1Range(sheet string, row, col, rows, cols int) string {
	from := CellName(row, col)
	to := CellName(row+max(rows, 1)-1, col+max(cols, 1)-1)
	if sheet == "" {
		return from + ":" + to
	}
	return QuoteSheet(sheet) + "!" + from + ":" + to
}

// QuoteSheet quotes a sheet name for use in a range.
func QuoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// =============================================================================
// Grid Mutation
// =============================================================================

// cloneGrid deep-copies rows.
func cloneGrid(rows [][]string) Grid {
	out := make(Grid, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// writeCells writes values into rows, growing rows and columns as needed.
func writeCells(rows [][]string, row, col int, values [][]string) ([][]string, error) {
	if row < 0 || col < 0 {
		return rows, fmt.Errorf("%w: write at (%d,%d)", ErrOutOfRange, row, col)
	}
	for len(rows) < row+len(values) {
		rows = append(rows, nil)
	}
	for i, vals := range values {
		r := rows[row+i]
		if need := col + len(vals); len(r) < need {
			grown := make([]string, need)
			copy(grown, r)
			r = grown
		}
		copy(r[col:], vals)
		rows[row+i] = r
	}
	return rows, nil
}

// insertRows inserts n empty rows before at. Inserting past the end pads.
func insertRows(rows [][]string, at, n int) ([][]string, error) {
	if at < 0 || n < 0 {
		return rows, fmt.Errorf("%w: insert %d at %d", ErrOutOfRange, n, at)
	}
	for len(rows) < at {
		rows = append(rows, nil)
	}
	blank := make([][]string, n)
	return append(rows[:at], append(blank, rows[at:]...)...), nil
}

// deleteRows removes rows [start, start+n).
func deleteRows(rows [][]string, start, n int) ([][]string, error) {
	if start < 0 || n < 0 || start+n > len(rows) {
		return rows, fmt.Errorf("%w: delete %d at %d of %d", ErrOutOfRange, n, start, len(rows))
	}
	return append(rows[:start], rows[start+n:]...), nil
}
