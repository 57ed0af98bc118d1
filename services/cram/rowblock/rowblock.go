// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rowblock groups denormalized sheet rows into entity blocks.
//
// A block starts at a row whose key cell is non-empty (the parent row) and
// runs until the row before the next non-empty key. Rows in between with an
// empty key are child rows carrying repeated sub-records such as chapters.
package rowblock

import (
	"iter"
	"slices"
	"strings"
)

// Row is one sheet row with its position in the scanned range.
type Row struct {
	// Index is the 0-based position within the scanned rows.
	Index int

	// Cells are the display values of the row.
	Cells []string
}

// Block is one entity: a parent row plus its child rows.
type Block struct {
	// Key is the trimmed key cell of the parent row.
	Key string

	// Start is the parent row's index.
	Start int

	// End is the index of the block's last row, inclusive. Blank rows before
	// the next key extend the block.
	End int

	// Parent is the row carrying the key and the scalar metadata.
	Parent Row

	// Children are the non-blank rows following the parent.
	Children []Row
}

// Rows returns the parent followed by the children.
func (b Block) Rows() []Row {
	return append([]Row{b.Parent}, b.Children...)
}

// Span returns the number of sheet rows the block occupies.
func (b Block) Span() int { return b.End - b.Start + 1 }

// Cell returns the trimmed value at col, or "" when col is out of range.
func Cell(cells []string, col int) string {
	if col < 0 || col >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[col])
}

// IsBlank reports whether every cell of the row is empty after trimming.
func IsBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Blocks groups rows by the key column, lazily and top to bottom.
//
// See Group for the grouping rules.
func Blocks(rows [][]string, keyCol int) iter.Seq[Block] {
	return Group(slices.All(rows), keyCol)
}

// Group groups an indexed row sequence into blocks.
//
// # Description
//
// A row with a non-empty key starts a new block, closing the previous one.
// The first occurrence of a key wins: a later row repeating a key already
// seen is a duplicate, and it and its following child rows are skipped.
// Rows with an empty key before the first parent are skipped. Blank rows
// extend the current block's End but are not reported as children.
//
// A block is yielded when the next parent row is reached or the input
// ends, so breaking out of the range loop stops reading further rows.
//
// # Inputs
//
//   - rows: Index and cells of each row, in sheet order.
//   - keyCol: 0-based key column. A negative column yields nothing.
//
// # Outputs
//
//   - iter.Seq[Block]: Blocks in first-encounter order. A block without
//     child rows has a nil Children slice.
//
// # Thread Safety
//
// The sequence reads rows only. It is safe to range over it concurrently
// if the source is.
func Group(rows iter.Seq2[int, []string], keyCol int) iter.Seq[Block] {
	return func(yield func(Block) bool) {
		if keyCol < 0 {
			return
		}
		seen := make(map[string]struct{})
		var cur *Block
		skipping := false

		for i, cells := range rows {
			key := Cell(cells, keyCol)
			if key != "" {
				if cur != nil {
					if !yield(*cur) {
						return
					}
					cur = nil
				}
				if _, dup := seen[key]; dup {
					skipping = true
					continue
				}
				seen[key] = struct{}{}
				skipping = false
				cur = &Block{Key: key, Start: i, End: i, Parent: Row{Index: i, Cells: cells}}
				continue
			}
			if cur == nil || skipping {
				continue
			}
			cur.End = i
			if IsBlank(cells) {
				continue
			}
			cur.Children = append(cur.Children, Row{Index: i, Cells: cells})
		}
		if cur != nil {
			yield(*cur)
		}
	}
}

// Lookup returns the block for key.
//
// The scan stops at the first non-empty key after the target's parent row,
// so rows below the sought block are never read.
func Lookup(rows [][]string, keyCol int, key string) (Block, bool) {
	return LookupSeq(slices.All(rows), keyCol, key)
}

// LookupSeq is Lookup over an indexed row sequence.
func LookupSeq(rows iter.Seq2[int, []string], keyCol int, key string) (Block, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Block{}, false
	}
	for b := range Group(rows, keyCol) {
		if b.Key == key {
			return b, true
		}
	}
	return Block{}, false
}

// Collect returns the blocks whose key is in keys, in the order of keys.
//
// Unknown keys are omitted and duplicates in keys yield the block once.
// The whole range is scanned.
func Collect(rows [][]string, keyCol int, keys []string) []Block {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[strings.TrimSpace(k)] = struct{}{}
	}
	found := make(map[string]Block, len(want))
	for b := range Blocks(rows, keyCol) {
		if _, ok := want[b.Key]; ok {
			found[b.Key] = b
		}
	}

	out := make([]Block, 0, len(found))
	emitted := make(map[string]struct{}, len(found))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		b, ok := found[k]
		if !ok {
			continue
		}
		if _, done := emitted[k]; done {
			continue
		}
		emitted[k] = struct{}{}
		out = append(out, b)
	}
	return out
}
