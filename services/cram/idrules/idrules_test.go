// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package idrules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable_Loads(t *testing.T) {
	tbl, err := LoadTable(context.Background(), defaultRulesYAML)
	require.NoError(t, err)
	assert.Equal(t, "MB", tbl.Fallback)
	assert.Equal(t, "g", tbl.BookIDLead)
	assert.NotEmpty(t, tbl.Rules)
}

func TestDecidePrefix(t *testing.T) {
	tbl := DefaultTable()
	tests := []struct {
		subject string
		title   string
		want    string
	}{
		{"英語", "自由英作文の書き方", "EW"},
		{"英語", "関正生のリスニング", "EL"},
		{"英語", "英文解釈の技術100", "EK"},
		{"英語", "やっておきたい長文500", "EC"},
		{"英語", "LEAP", "ET"},
		{"英語", "システム英単語", "ET"},
		{"英語", "Vintage 英文法", "EB"},
		{"英語", "よくわかる英語", "EC"},
		{"数学", "青チャート", "MB"},
		{"現代文", "現代文読解の基礎", "JG"},
		{"漢文", "漢文早覚え", "JO"},
		{"古典", "古典文法", "JO"},
		{"日本史", "一問一答", "JH"},
		{"世界史", "一問一答", "WH"},
		{"地理", "地理の研究", "GG"},
		{"政治・経済", "政経問題集", "GE"},
		{"物理基礎", "はじめる物理", "PHB"},
		{"物理", "名問の森", "PH"},
		{"化学基礎", "化学基礎の計算", "CHB"},
		{"化学", "化学の新研究", "CH"},
		{"生物基礎", "生物基礎の必修", "BIB"},
		{"生物", "大森徹の生物", "BI"},
		{"地学基礎", "地学基礎の講義", "ESB"},
		{"情報", "情報I", "MB"},
	}
	for _, tt := range tests {
		t.Run(tt.subject+"/"+tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, tbl.DecidePrefix(tt.subject, tt.title))
		})
	}
}

func TestBookPrefix(t *testing.T) {
	assert.Equal(t, "gEB", DefaultTable().BookPrefix("英語", "英文法ファイナル"))
}

func TestNextID(t *testing.T) {
	ids := []string{"gMB001", "gMB010", "gMB002", "gEC099", "", "gMBx", " gMB003 "}
	assert.Equal(t, "gMB011", NextID("gMB", ids))
	assert.Equal(t, "gEC100", NextID("gEC", ids))
	assert.Equal(t, "gPH001", NextID("gPH", ids))
	assert.Equal(t, "gMB1000", NextID("gMB", []string{"gMB999"}))
}

func TestNextID_Idempotent(t *testing.T) {
	ids := []string{"s001", "s007"}
	first := NextID("s", ids)
	assert.Equal(t, first, NextID("s", ids))
	assert.Equal(t, "s008", first)
}

func TestLoadTable_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := LoadTable(ctx, nil)
	assert.Error(t, err)

	_, err = LoadTable(ctx, []byte("rules:\n  - prefix: X\n"))
	assert.ErrorContains(t, err, "subject_any")

	_, err = LoadTable(ctx, []byte("rules:\n  - subject_any: [a]\n"))
	assert.ErrorContains(t, err, "prefix")

	tbl, err := LoadTable(ctx, []byte("fallback: ZZ\nrules: []\n"))
	require.NoError(t, err)
	assert.Equal(t, "ZZ", tbl.DecidePrefix("英語", ""))
}
