// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Tokenizer Tests
// =============================================================================

func TestTokenize(t *testing.T) {
	tok := NewTokenizer(DefaultStopWords, true)
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"ascii words drop single letters", "Blue Chart Math II B", []string{"blue", "chart", "math", "ii"}},
		{"kana joiner split", "軌跡と領域", []string{"軌跡", "領域"}},
		{"stop-word dropped", "青チャート 数学Ⅱ B 問題集", []string{"青チャート", "数学2"}},
		{"punctuation boundaries", "英文法・語法（Vintage）", []string{"英文法", "語法", "vintage"}},
		{"duplicates retained", "math math", []string{"math", "math"}},
		{"circled digits unified", "基礎問題精講①", []string{"基礎問題精講1"}},
		{"iteration mark kept", "人々の暮らし", []string{"人々", "暮らし"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Tokenize(tt.in))
		})
	}
}

func TestTokenize_JoinerSplitDisabled(t *testing.T) {
	tok := NewTokenizer(DefaultStopWords, false)
	assert.Equal(t, []string{"軌跡と領域"}, tok.Tokenize("軌跡と領域"))
}

func TestTokenize_AllStopWordsDropped(t *testing.T) {
	tok := NewTokenizer(DefaultStopWords, true)
	for _, w := range DefaultStopWords {
		assert.Empty(t, tok.Tokenize(w), "stop-word %q", w)
	}
}

func TestTokenSet_Distinct(t *testing.T) {
	tok := NewTokenizer(nil, true)
	set := tok.TokenSet("math Math MATH chart")
	assert.Len(t, set, 2)
	assert.Contains(t, set, "math")
	assert.Contains(t, set, "chart")
}

// =============================================================================
// Index Tests
// =============================================================================

func TestBuildIndex_Empty(t *testing.T) {
	idx := BuildIndex(NewTokenizer(nil, true), nil)
	assert.Equal(t, 1, idx.N())
	assert.Zero(t, idx.DocCount("anything"))
}

func TestBuildIndex_SetSemantics(t *testing.T) {
	tok := NewTokenizer(nil, true)
	idx := BuildIndex(tok, []Candidate{
		{Key: "a", Primary: "math math", Aliases: []string{"math"}},
		{Key: "b", Primary: "math chart"},
	})
	assert.Equal(t, 2, idx.N())
	assert.Equal(t, 2, idx.DocCount("math"))
	assert.Equal(t, 1, idx.DocCount("chart"))
}

func TestIndex_IDF(t *testing.T) {
	tok := NewTokenizer(nil, true)
	idx := BuildIndex(tok, []Candidate{
		{Key: "a", Primary: "math chart"},
		{Key: "b", Primary: "math basic"},
	})
	// ln((N-d+0.5)/(d+0.5)+1) with N=2.
	assert.InDelta(t, math.Log(1.2), idx.IDF("math"), 1e-12)
	assert.InDelta(t, math.Log(2), idx.IDF("chart"), 1e-12)
	assert.InDelta(t, math.Log(6), idx.IDF("unknown"), 1e-12)
	assert.Greater(t, idx.IDF("chart"), idx.IDF("math"), "rarer token must weigh more")
}

func TestIndex_AliasesCounted(t *testing.T) {
	tok := NewTokenizer(nil, true)
	idx := BuildIndex(tok, []Candidate{
		{Key: "a", Primary: "Focus Gold", Aliases: []string{"フォーカスゴールド"}},
	})
	assert.Equal(t, 1, idx.DocCount("フォーカスゴールド"))
	assert.Zero(t, idx.DocCount("a"))
}
