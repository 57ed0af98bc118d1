// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// =============================================================================
// GoogleWorkbook
// =============================================================================

// GoogleWorkbook talks to the Google Sheets API v4.
//
// # Description
//
// Reads use FORMATTED_VALUE so callers see what a person sees in the sheet.
// Writes use USER_ENTERED so numbers and dates are parsed the way typed
// input would be. Row insertion and deletion go through batchUpdate
// dimension requests, which need the numeric sheet id; it is fetched per
// call.
//
// # Thread Safety
//
// Safe for concurrent use.
type GoogleWorkbook struct {
	svc    *gsheets.Service
	logger *slog.Logger
}

// NewGoogleWorkbook creates a client. opts are passed to the Sheets service,
// e.g. option.WithCredentialsFile; none uses application default
// credentials.
func NewGoogleWorkbook(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*GoogleWorkbook, error) {
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGoogleWorkbook: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoogleWorkbook{svc: svc, logger: logger}, nil
}

// ListSheets implements Workbook.
func (g *GoogleWorkbook) ListSheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	props, err := g.properties(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Title
	}
	return names, nil
}

// ReadSheet implements Workbook.
func (g *GoogleWorkbook) ReadSheet(ctx context.Context, ref Ref) (Grid, error) {
	p, err := g.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	vr, err := g.svc.Spreadsheets.Values.Get(ref.SpreadsheetID, QuoteSheet(p.Title)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapGoogleError(ref.SpreadsheetID, err)
	}
	grid := make(Grid, len(vr.Values))
	for i, row := range vr.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		grid[i] = cells
	}
	return grid, nil
}

// WriteCells implements Workbook.
func (g *GoogleWorkbook) WriteCells(ctx context.Context, ref Ref, row, col int, values [][]string) error {
	if len(values) == 0 {
		return nil
	}
	p, err := g.resolve(ctx, ref)
	if err != nil {
		return err
	}
	width := 0
	for _, r := range values {
		width = max(width, len(r))
	}
	rng := A1Range(p.Title, row, col, len(values), width)
	_, err = g.svc.Spreadsheets.Values.Update(ref.SpreadsheetID, rng, &gsheets.ValueRange{Values: toInterfaces(values)}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return mapGoogleError(ref.SpreadsheetID, err)
	}
	g.logger.Debug("sheet cells written", slog.String("range", rng), slog.Int("rows", len(values)))
	return nil
}

// InsertRows implements Workbook.
func (g *GoogleWorkbook) InsertRows(ctx context.Context, ref Ref, at, n int) error {
	if n <= 0 {
		return nil
	}
	p, err := g.resolve(ctx, ref)
	if err != nil {
		return err
	}
	return g.batch(ctx, ref.SpreadsheetID, &gsheets.Request{
		InsertDimension: &gsheets.InsertDimensionRequest{
			Range:             rowRange(p.SheetId, at, n),
			InheritFromBefore: at > 0,
		},
	})
}

// DeleteRows implements Workbook.
func (g *GoogleWorkbook) DeleteRows(ctx context.Context, ref Ref, start, n int) error {
	if n <= 0 {
		return nil
	}
	p, err := g.resolve(ctx, ref)
	if err != nil {
		return err
	}
	return g.batch(ctx, ref.SpreadsheetID, &gsheets.Request{
		DeleteDimension: &gsheets.DeleteDimensionRequest{Range: rowRange(p.SheetId, start, n)},
	})
}

// AppendRows implements Workbook.
func (g *GoogleWorkbook) AppendRows(ctx context.Context, ref Ref, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	p, err := g.resolve(ctx, ref)
	if err != nil {
		return err
	}
	_, err = g.svc.Spreadsheets.Values.Append(ref.SpreadsheetID, QuoteSheet(p.Title), &gsheets.ValueRange{Values: toInterfaces(rows)}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return mapGoogleError(ref.SpreadsheetID, err)
	}
	return nil
}

func (g *GoogleWorkbook) batch(ctx context.Context, spreadsheetID string, reqs ...*gsheets.Request) error {
	_, err := g.svc.Spreadsheets.BatchUpdate(spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{Requests: reqs}).
		Context(ctx).
		Do()
	if err != nil {
		return mapGoogleError(spreadsheetID, err)
	}
	return nil
}

func (g *GoogleWorkbook) properties(ctx context.Context, spreadsheetID string) ([]*gsheets.SheetProperties, error) {
	ss, err := g.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapGoogleError(spreadsheetID, err)
	}
	props := make([]*gsheets.SheetProperties, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			props = append(props, s.Properties)
		}
	}
	return props, nil
}

func (g *GoogleWorkbook) resolve(ctx context.Context, ref Ref) (*gsheets.SheetProperties, error) {
	props, err := g.properties(ctx, ref.SpreadsheetID)
	if err != nil {
		return nil, err
	}
	if ref.Sheet == "" && len(props) > 0 {
		return props[0], nil
	}
	for _, p := range props {
		if p.Title == ref.Sheet {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, ref)
}

// rowRange builds a ROWS dimension range. Zero sheet ids and start indices
// are meaningful, so they are force-sent.
func rowRange(sheetID int64, start, n int) *gsheets.DimensionRange {
	return &gsheets.DimensionRange{
		SheetId:         sheetID,
		Dimension:       "ROWS",
		StartIndex:      int64(start),
		EndIndex:        int64(start + n),
		ForceSendFields: []string{"SheetId", "StartIndex"},
	}
}

func toInterfaces(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		cells := make([]interface{}, len(r))
		for j, v := range r {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

// mapGoogleError turns a 404 into ErrSpreadsheetNotFound.
func mapGoogleError(spreadsheetID string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrSpreadsheetNotFound, spreadsheetID)
	}
	return fmt.Errorf("sheets api: %w", err)
}
