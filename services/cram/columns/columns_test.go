// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package columns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderKey(t *testing.T) {
	assert.Equal(t, "参考書id", HeaderKey(" 参考書ＩＤ "))
	assert.Equal(t, "unitload", HeaderKey("Unit Load"))
	assert.Equal(t, "", HeaderKey("   "))
}

func TestPick_CandidateOrderWins(t *testing.T) {
	headers := []string{"ID", "タイトル", "参考書名"}
	assert.Equal(t, 2, Pick(headers, "参考書名", "タイトル"))
	assert.Equal(t, 1, Pick(headers, "タイトル", "参考書名"))
	assert.Equal(t, 0, Pick(headers, "参考書ID", "ID", "id"))
	assert.Equal(t, Missing, Pick(headers, "教科"))
}

func TestPickContaining(t *testing.T) {
	headers := []string{"生徒ID", "スピードプランナーのURL"}
	assert.Equal(t, 1, PickContaining(headers, "PlannerLink", "スピードプランナー"))
	assert.Equal(t, Missing, PickContaining(headers, "面談"))
}

func TestResolve(t *testing.T) {
	aliases := Aliases{
		"id":    {"参考書ID", "ID", "id"},
		"title": {"参考書名", "タイトル", "書名", "title"},
		"alias": {"別名"},
	}
	ix := Resolve([]string{"参考書ID", "参考書名"}, aliases)
	assert.Equal(t, 0, ix.Col("id"))
	assert.Equal(t, 1, ix.Col("title"))
	assert.False(t, ix.Has("alias"))
	assert.Equal(t, Missing, ix.Col("unknown"))
	assert.Equal(t, []string{"alias"}, ix.MissingOf("id", "alias"))
	assert.Equal(t, 2, ix.Width())
}

func TestIndex_GetSet(t *testing.T) {
	ix := Resolve([]string{"id", "name", "grade"}, Aliases{"id": {"id"}, "grade": {"grade"}, "kana": {"kana"}})
	row := ix.Set(nil, "grade", "高2")
	assert.Equal(t, []string{"", "", "高2"}, row)
	assert.Equal(t, "高2", ix.Get(row, "grade"))
	assert.Equal(t, "", ix.Get([]string{"x"}, "grade"))

	row = ix.Set(row, "kana", "ignored")
	assert.Len(t, row, 3)
}

func TestIndex_Lookup(t *testing.T) {
	aliases := Aliases{"subject": {"教科", "科目"}}
	ix := Resolve([]string{"参考書ID", "科目", "メモ"}, aliases)
	assert.Equal(t, 1, ix.Lookup("subject", aliases))
	assert.Equal(t, 2, ix.Lookup("メモ", aliases))
	assert.Equal(t, Missing, ix.Lookup("nothing", aliases))
}
