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
	"fmt"
	"sync"
)

// =============================================================================
// MemoryWorkbook
// =============================================================================

// MemoryWorkbook keeps spreadsheets in process memory.
//
// It backs tests and the default "memory" backend. Reads return copies, so
// callers may keep grids across writes.
//
// Thread Safety: Safe for concurrent use.
type MemoryWorkbook struct {
	mu    sync.RWMutex
	files map[string]*memFile
}

type memFile struct {
	order  []string
	sheets map[string][][]string
}

// NewMemoryWorkbook returns an empty workbook set.
func NewMemoryWorkbook() *MemoryWorkbook {
	return &MemoryWorkbook{files: make(map[string]*memFile)}
}

// PutSheet creates or replaces a sheet, creating the spreadsheet on first
// use. New sheets are appended to the sheet order.
func (m *MemoryWorkbook) PutSheet(spreadsheetID, name string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[spreadsheetID]
	if !ok {
		f = &memFile{sheets: make(map[string][][]string)}
		m.files[spreadsheetID] = f
	}
	if _, exists := f.sheets[name]; !exists {
		f.order = append(f.order, name)
	}
	f.sheets[name] = cloneGrid(rows)
}

// ListSheets implements Workbook.
func (m *MemoryWorkbook) ListSheets(_ context.Context, spreadsheetID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[spreadsheetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpreadsheetNotFound, spreadsheetID)
	}
	return append([]string(nil), f.order...), nil
}

// ReadSheet implements Workbook.
func (m *MemoryWorkbook) ReadSheet(_ context.Context, ref Ref) (Grid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, _, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}
	return cloneGrid(rows), nil
}

// WriteCells implements Workbook.
func (m *MemoryWorkbook) WriteCells(_ context.Context, ref Ref, row, col int, values [][]string) error {
	return m.mutate(ref, func(rows [][]string) ([][]string, error) {
		return writeCells(rows, row, col, values)
	})
}

// InsertRows implements Workbook.
func (m *MemoryWorkbook) InsertRows(_ context.Context, ref Ref, at, n int) error {
	return m.mutate(ref, func(rows [][]string) ([][]string, error) {
		return insertRows(rows, at, n)
	})
}

// DeleteRows implements Workbook.
func (m *MemoryWorkbook) DeleteRows(_ context.Context, ref Ref, start, n int) error {
	return m.mutate(ref, func(rows [][]string) ([][]string, error) {
		return deleteRows(rows, start, n)
	})
}

// AppendRows implements Workbook.
func (m *MemoryWorkbook) AppendRows(_ context.Context, ref Ref, values [][]string) error {
	return m.mutate(ref, func(rows [][]string) ([][]string, error) {
		return writeCells(rows, len(rows), 0, values)
	})
}

func (m *MemoryWorkbook) mutate(ref Ref, fn func([][]string) ([][]string, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, name, err := m.lookup(ref)
	if err != nil {
		return err
	}
	rows, err = fn(rows)
	if err != nil {
		return err
	}
	m.files[ref.SpreadsheetID].sheets[name] = rows
	return nil
}

// lookup resolves ref. Callers hold mu.
func (m *MemoryWorkbook) lookup(ref Ref) ([][]string, string, error) {
	f, ok := m.files[ref.SpreadsheetID]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrSpreadsheetNotFound, ref.SpreadsheetID)
	}
	name, err := resolveSheetName(f.order, ref)
	if err != nil {
		return nil, "", err
	}
	return f.sheets[name], name, nil
}

// resolveSheetName maps an empty sheet name to the first sheet and checks
// that a named sheet exists.
func resolveSheetName(order []string, ref Ref) (string, error) {
	if ref.Sheet == "" {
		if len(order) == 0 {
			return "", fmt.Errorf("%w: %s has no sheets", ErrSheetNotFound, ref.SpreadsheetID)
		}
		return order[0], nil
	}
	for _, n := range order {
		if n == ref.Sheet {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSheetNotFound, ref)
}
