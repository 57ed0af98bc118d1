// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rowblock

import (
	"iter"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func collect(rows [][]string) []Block {
	return slices.Collect(Blocks(rows, 0))
}

func keys(blocks []Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Key
	}
	return out
}

// countingRows wraps rows and records the highest index read.
func countingRows(rows [][]string, maxRead *int) iter.Seq2[int, []string] {
	return func(yield func(int, []string) bool) {
		for i, r := range rows {
			*maxRead = i
			if !yield(i, r) {
				return
			}
		}
	}
}

// =============================================================================
// Group Tests
// =============================================================================

func TestBlocks_ParentAndChildren(t *testing.T) {
	rows := [][]string{
		{"A1", "Title A", "ch1"},
		{"", "", "child1"},
		{"", "", "child2"},
		{"A2", "Title B", ""},
	}
	blocks := collect(rows)
	require.Len(t, blocks, 2)

	assert.Equal(t, "A1", blocks[0].Key)
	assert.Len(t, blocks[0].Children, 2)
	assert.Equal(t, 0, blocks[0].Start)
	assert.Equal(t, 2, blocks[0].End)
	assert.Equal(t, "child2", blocks[0].Children[1].Cells[2])

	assert.Equal(t, "A2", blocks[1].Key)
	assert.Empty(t, blocks[1].Children)
	assert.Equal(t, 3, blocks[1].Start)
	assert.Equal(t, 1, blocks[1].Span())
}

func TestBlocks_DuplicateKeySkipped(t *testing.T) {
	rows := [][]string{
		{"A1", "first"},
		{"", "a1-child"},
		{"A2", "second"},
		{"A1", "duplicate"},
		{"", "dup-child"},
		{"A3", "third"},
	}
	blocks := collect(rows)
	assert.Equal(t, []string{"A1", "A2", "A3"}, keys(blocks))
	assert.Equal(t, "first", blocks[0].Parent.Cells[1])
	assert.Len(t, blocks[0].Children, 1)
	assert.Empty(t, blocks[1].Children, "duplicate's children must not leak into the previous block")
	assert.Equal(t, 2, blocks[1].End)

	for _, b := range blocks {
		for _, r := range b.Rows() {
			assert.NotContains(t, r.Cells, "duplicate")
			assert.NotContains(t, r.Cells, "dup-child")
		}
	}
}

func TestBlocks_LeadingChildRowsSkipped(t *testing.T) {
	rows := [][]string{
		{"", "orphan"},
		{"", "orphan2"},
		{"B1", "parent"},
	}
	blocks := collect(rows)
	require.Len(t, blocks, 1)
	assert.Equal(t, "B1", blocks[0].Key)
	assert.Equal(t, 2, blocks[0].Start)
}

func TestBlocks_BlankRowsExtendSpan(t *testing.T) {
	rows := [][]string{
		{"B1", "parent"},
		{"", ""},
		{"", "child"},
		{" ", "  "},
		{"B2", "next"},
	}
	blocks := collect(rows)
	require.Len(t, blocks, 2)
	assert.Equal(t, 3, blocks[0].End)
	assert.Equal(t, 4, blocks[0].Span())
	require.Len(t, blocks[0].Children, 1)
	assert.Equal(t, 2, blocks[0].Children[0].Index)
}

func TestBlocks_Empty(t *testing.T) {
	assert.Empty(t, collect(nil))
	assert.Empty(t, slices.Collect(Blocks([][]string{{"x"}}, -1)))
}

func TestBlocks_KeyTrimmed(t *testing.T) {
	blocks := collect([][]string{{"  K1 ", "v"}})
	require.Len(t, blocks, 1)
	assert.Equal(t, "K1", blocks[0].Key)
}

func TestBlocks_ShortRows(t *testing.T) {
	rows := [][]string{
		{"K1", "a", "b"},
		{},
		{""},
	}
	blocks := collect(rows)
	require.Len(t, blocks, 1)
	assert.Equal(t, 2, blocks[0].End)
	assert.Empty(t, blocks[0].Children)
}

// =============================================================================
// Lookup Tests
// =============================================================================

func TestLookup(t *testing.T) {
	rows := [][]string{
		{"A1", "x"},
		{"", "c"},
		{"A2", "y"},
	}
	b, ok := Lookup(rows, 0, "A1")
	require.True(t, ok)
	assert.Len(t, b.Children, 1)

	_, ok = Lookup(rows, 0, "missing")
	assert.False(t, ok)

	_, ok = Lookup(rows, 0, "  ")
	assert.False(t, ok)
}

func TestLookup_StopsAtNextKey(t *testing.T) {
	rows := [][]string{
		{"A1", "x"},
		{"A2", "target"},
		{"", "child"},
		{"A3", "after"},
		{"", "never read"},
		{"A4", "never read"},
	}
	maxRead := -1
	b, ok := LookupSeq(countingRows(rows, &maxRead), 0, "A2")
	require.True(t, ok)
	assert.Equal(t, "target", b.Parent.Cells[1])
	assert.Len(t, b.Children, 1)
	assert.Equal(t, 3, maxRead, "scan must end at the first key after the target")
}

func TestLookup_FirstOccurrenceWins(t *testing.T) {
	rows := [][]string{
		{"A1", "first"},
		{"A1", "second"},
	}
	b, ok := Lookup(rows, 0, "A1")
	require.True(t, ok)
	assert.Equal(t, "first", b.Parent.Cells[1])
}

// =============================================================================
// Collect Tests
// =============================================================================

func TestCollect_RequestOrderAndOmission(t *testing.T) {
	rows := [][]string{
		{"A1", "x"},
		{"A2", "y"},
		{"A3", "z"},
	}
	got := Collect(rows, 0, []string{"A3", "missing", "A1", "A3"})
	assert.Equal(t, []string{"A3", "A1"}, keys(got))
}

func TestCell(t *testing.T) {
	assert.Equal(t, "v", Cell([]string{" v "}, 0))
	assert.Equal(t, "", Cell([]string{"v"}, 3))
	assert.Equal(t, "", Cell([]string{"v"}, -1))
}
