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
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Blob Storage
// =============================================================================

// ErrBlobNotFound is returned by BlobStore.Get for a missing object.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is a flat object store addressed by slash-separated names.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Get returns the object's bytes or ErrBlobNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put creates or replaces the object.
	Put(ctx context.Context, name string, data []byte) error
}

// manifestName is the per-spreadsheet index object.
const manifestName = "manifest.yaml"

// manifest lists a spreadsheet's sheets in workbook order.
type manifest struct {
	Sheets []manifestSheet `yaml:"sheets"`
}

type manifestSheet struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

func (m manifest) names() []string {
	out := make([]string, len(m.Sheets))
	for i, s := range m.Sheets {
		out[i] = s.Name
	}
	return out
}

func (m manifest) file(name string) string {
	for _, s := range m.Sheets {
		if s.Name == name {
			return s.File
		}
	}
	return ""
}

// =============================================================================
// BlobWorkbook
// =============================================================================

// BlobWorkbook stores each spreadsheet as a directory of CSV files plus a
// YAML manifest giving the sheet order:
//
//	<spreadsheet id>/manifest.yaml
//	<spreadsheet id>/sheet-000.csv
//
// Every mutation reads, edits and rewrites the whole sheet.
//
// Thread Safety: Safe for concurrent use within one process. Writers in
// other processes are not coordinated.
type BlobWorkbook struct {
	store  BlobStore
	mu     sync.Mutex
	logger *slog.Logger
}

// NewBlobWorkbook wraps store. A nil logger uses slog.Default().
func NewBlobWorkbook(store BlobStore, logger *slog.Logger) *BlobWorkbook {
	if store == nil {
		panic("NewBlobWorkbook: store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobWorkbook{store: store, logger: logger}
}

// PutSheet creates or replaces a sheet, creating the spreadsheet on first
// use.
func (b *BlobWorkbook) PutSheet(ctx context.Context, spreadsheetID, name string, rows [][]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.loadManifest(ctx, spreadsheetID)
	if err != nil && !errors.Is(err, ErrSpreadsheetNotFound) {
		return err
	}
	file := m.file(name)
	if file == "" {
		file = fmt.Sprintf("sheet-%03d.csv", len(m.Sheets))
		m.Sheets = append(m.Sheets, manifestSheet{Name: name, File: file})
		raw, err := yaml.Marshal(m)
		if err != nil {
			return fmt.Errorf("PutSheet: encoding manifest: %w", err)
		}
		if err := b.store.Put(ctx, path.Join(spreadsheetID, manifestName), raw); err != nil {
			return fmt.Errorf("PutSheet: writing manifest: %w", err)
		}
	}
	return b.saveGrid(ctx, path.Join(spreadsheetID, file), rows)
}

// ListSheets implements Workbook.
func (b *BlobWorkbook) ListSheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	m, err := b.loadManifest(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}
	return m.names(), nil
}

// ReadSheet implements Workbook.
func (b *BlobWorkbook) ReadSheet(ctx context.Context, ref Ref) (Grid, error) {
	name, err := b.objectName(ctx, ref)
	if err != nil {
		return nil, err
	}
	return b.loadGrid(ctx, name)
}

// WriteCells implements Workbook.
func (b *BlobWorkbook) WriteCells(ctx context.Context, ref Ref, row, col int, values [][]string) error {
	return b.mutate(ctx, ref, func(rows [][]string) ([][]string, error) {
		return writeCells(rows, row, col, values)
	})
}

// InsertRows implements Workbook.
func (b *BlobWorkbook) InsertRows(ctx context.Context, ref Ref, at, n int) error {
	return b.mutate(ctx, ref, func(rows [][]string) ([][]string, error) {
		return insertRows(rows, at, n)
	})
}

// DeleteRows implements Workbook.
func (b *BlobWorkbook) DeleteRows(ctx context.Context, ref Ref, start, n int) error {
	return b.mutate(ctx, ref, func(rows [][]string) ([][]string, error) {
		return deleteRows(rows, start, n)
	})
}

// AppendRows implements Workbook.
func (b *BlobWorkbook) AppendRows(ctx context.Context, ref Ref, values [][]string) error {
	return b.mutate(ctx, ref, func(rows [][]string) ([][]string, error) {
		return writeCells(rows, len(rows), 0, values)
	})
}

func (b *BlobWorkbook) mutate(ctx context.Context, ref Ref, fn func([][]string) ([][]string, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, err := b.objectName(ctx, ref)
	if err != nil {
		return err
	}
	rows, err := b.loadGrid(ctx, name)
	if err != nil {
		return err
	}
	rows2, err := fn(rows)
	if err != nil {
		return err
	}
	if err := b.saveGrid(ctx, name, rows2); err != nil {
		return err
	}
	b.logger.Debug("blob sheet written",
		slog.String("object", name),
		slog.Int("rows", len(rows2)),
	)
	return nil
}

func (b *BlobWorkbook) objectName(ctx context.Context, ref Ref) (string, error) {
	m, err := b.loadManifest(ctx, ref.SpreadsheetID)
	if err != nil {
		return "", err
	}
	name, err := resolveSheetName(m.names(), ref)
	if err != nil {
		return "", err
	}
	return path.Join(ref.SpreadsheetID, m.file(name)), nil
}

func (b *BlobWorkbook) loadManifest(ctx context.Context, spreadsheetID string) (manifest, error) {
	var m manifest
	raw, err := b.store.Get(ctx, path.Join(spreadsheetID, manifestName))
	if errors.Is(err, ErrBlobNotFound) {
		return m, fmt.Errorf("%w: %s", ErrSpreadsheetNotFound, spreadsheetID)
	}
	if err != nil {
		return m, fmt.Errorf("reading manifest of %s: %w", spreadsheetID, err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parsing manifest of %s: %w", spreadsheetID, err)
	}
	return m, nil
}

func (b *BlobWorkbook) loadGrid(ctx context.Context, name string) (Grid, error) {
	raw, err := b.store.Get(ctx, name)
	if errors.Is(err, ErrBlobNotFound) {
		return Grid{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return decodeCSV(raw)
}

func (b *BlobWorkbook) saveGrid(ctx context.Context, name string, rows [][]string) error {
	raw, err := encodeCSV(rows)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := b.store.Put(ctx, name, raw); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// =============================================================================
// CSV Codec
// =============================================================================

// encodeCSV writes rows padded to a common width of at least two columns,
// so blank rows survive as "," lines instead of being dropped on read.
func encodeCSV(rows [][]string) ([]byte, error) {
	width := 2
	for _, r := range rows {
		width = max(width, len(r))
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rec := make([]string, width)
	for _, r := range rows {
		clear(rec)
		copy(rec, r)
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// decodeCSV reads rows and trims trailing empty cells, matching the used
// range a spreadsheet reports.
func decodeCSV(raw []byte) (Grid, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	g := make(Grid, len(records))
	for i, rec := range records {
		n := len(rec)
		for n > 0 && rec[n-1] == "" {
			n--
		}
		g[i] = rec[:n]
	}
	return g, nil
}
