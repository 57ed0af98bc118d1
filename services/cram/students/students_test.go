// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package students

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
	badgerstore "github.com/ARUOHTA/cram-books-mcp/services/cram/storage/badger"
)

const (
	testFile   = "students-file"
	plannerID1 = "1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789"
	plannerID2 = "1ZyXwVuTsRqPoNmLkJiHgFeDcBa9876543210"
)

func fixtureRows() [][]string {
	return [][]string{
		{"生徒ID", "氏名", "ふりがな", "学年", "スピードプランナーID", "スピードプランナーのURL", "タグ"},
		{"s001", "山田太郎", "やまだたろう", "高2", plannerID1, "", "理系"},
		{"s002", "佐藤花子", "さとうはなこ", "高3", "", "https://docs.google.com/spreadsheets/d/" + plannerID2 + "/edit", "文系"},
		{"", "", "", "", "", "", ""},
		{"s010", "山田次郎", "やまだじろう", "中3", "", "", ""},
	}
}

// failingWorkbook fails every mutation while fail is set.
type failingWorkbook struct {
	*sheets.MemoryWorkbook
	fail error
}

func (w *failingWorkbook) WriteCells(ctx context.Context, ref sheets.Ref, row, col int, values [][]string) error {
	if w.fail != nil {
		return w.fail
	}
	return w.MemoryWorkbook.WriteCells(ctx, ref, row, col, values)
}

func (w *failingWorkbook) DeleteRows(ctx context.Context, ref sheets.Ref, start, n int) error {
	if w.fail != nil {
		return w.fail
	}
	return w.MemoryWorkbook.DeleteRows(ctx, ref, start, n)
}

func newTestService(t *testing.T, rows [][]string) *Service {
	t.Helper()
	svc, _ := newFailingService(t, rows)
	return svc
}

func newFailingService(t *testing.T, rows [][]string) (*Service, *failingWorkbook) {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	wb := &failingWorkbook{MemoryWorkbook: sheets.NewMemoryWorkbook()}
	wb.PutSheet(testFile, "生徒マスター", rows)
	cfg := search.DefaultConfig()
	cfg.CategoryKeywords = []string{"中3", "高2", "高3"}
	return NewService(Deps{
		Workbook: wb,
		Source:   sheets.Ref{SpreadsheetID: testFile},
		Search:   cfg,
		Confirm:  confirm.NewManager(confirm.NewBadgerStore(db, nil), 0),
	}), wb
}

func getOne(t *testing.T, svc *Service, id string) Student {
	t.Helper()
	res, err := svc.Get(context.Background(), GetRequest{StudentID: id})
	require.NoError(t, err)
	require.NotNil(t, res.Student)
	return *res.Student
}

func TestList(t *testing.T) {
	svc := newTestService(t, fixtureRows())
	res, err := svc.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, "s010", res.Students[2].ID)
	assert.Equal(t, "理系", res.Students[0].Row["タグ"])

	res, err = svc.List(context.Background(), ListRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	empty := newTestService(t, nil)
	res, err = empty.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.NotNil(t, res.Students)
}

func TestFind(t *testing.T) {
	svc := newTestService(t, fixtureRows())
	ctx := context.Background()

	res, err := svc.Find(ctx, FindRequest{Query: "佐藤花子"})
	require.NoError(t, err)
	require.NotNil(t, res.Top)
	assert.Equal(t, "s002", res.Top.StudentID)
	assert.Equal(t, search.ReasonExact, res.Top.Reason)

	res, err = svc.Find(ctx, FindRequest{Query: "やまだじろう"})
	require.NoError(t, err)
	require.NotNil(t, res.Top)
	assert.Equal(t, "s010", res.Top.StudentID)

	res, err = svc.Find(ctx, FindRequest{Query: "s001"})
	require.NoError(t, err)
	require.NotNil(t, res.Top)
	assert.Equal(t, "山田太郎", res.Top.Name)

	_, err = svc.Find(ctx, FindRequest{Query: " "})
	assert.Equal(t, api.CodeBadRequest, api.CodeOf(err))
}

func TestFind_BadHeader(t *testing.T) {
	ctx := context.Background()

	noName := newTestService(t, [][]string{{"生徒ID", "メモ"}, {"s001", "x"}})
	_, err := noName.Find(ctx, FindRequest{Query: "山田"})
	assert.Equal(t, api.CodeBadHeader, api.CodeOf(err))

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	details, ok := apiErr.Details.(map[string]any)
	require.True(t, ok, "details: %#v", apiErr.Details)
	assert.Equal(t, []string{"生徒ID", "メモ"}, details["headers"])
	assert.Equal(t, []string{fieldName}, details["missing"])

	noID := newTestService(t, [][]string{{"氏名"}})
	_, err = noID.Find(ctx, FindRequest{Query: "山田"})
	assert.Equal(t, api.CodeBadHeader, api.CodeOf(err))

	empty := newTestService(t, [][]string{})
	res, err := empty.Find(ctx, FindRequest{Query: "山田"})
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}

func TestGet(t *testing.T) {
	svc := newTestService(t, fixtureRows())
	ctx := context.Background()

	st := getOne(t, svc, "s002")
	assert.Equal(t, "佐藤花子", st.Name)
	assert.Equal(t, "高3", st.Grade)
	assert.Equal(t, "文系", st.Tags)

	res, err := svc.Get(ctx, GetRequest{StudentIDs: []string{"s010", "s999", "s001"}})
	require.NoError(t, err)
	require.NotNil(t, res.Students)
	require.Len(t, *res.Students, 2)
	assert.Equal(t, "s010", (*res.Students)[0].ID)
	assert.Equal(t, "s001", (*res.Students)[1].ID)

	_, err = svc.Get(ctx, GetRequest{StudentID: "s999"})
	assert.Equal(t, api.CodeNotFound, api.CodeOf(err))
	_, err = svc.Get(ctx, GetRequest{})
	assert.Equal(t, api.CodeBadRequest, api.CodeOf(err))

	noID := newTestService(t, [][]string{{"氏名"}, {"x"}})
	_, err = noID.Get(ctx, GetRequest{StudentID: "s001"})
	assert.Equal(t, api.CodeBadHeader, api.CodeOf(err))
}

func TestFilter(t *testing.T) {
	svc := newTestService(t, fixtureRows())
	ctx := context.Background()

	res, err := svc.Filter(ctx, FilterRequest{Contains: map[string]string{"氏名": "山田"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	res, err = svc.Filter(ctx, FilterRequest{
		Where:    map[string]string{"grade": "高２"},
		Contains: map[string]string{"氏名": "山田"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "s001", res.Students[0].ID)

	res, err = svc.Filter(ctx, FilterRequest{Where: map[string]string{"部活": "x"}})
	require.NoError(t, err)
	assert.Zero(t, res.Count)

	res, err = svc.Filter(ctx, FilterRequest{Contains: map[string]string{"氏名": "山田"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestCreate(t *testing.T) {
	svc := newTestService(t, fixtureRows())
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateRequest{
		Record: map[string]any{"氏名": "鈴木一郎", "タグ": "推薦", "存在しない": 1.0},
		Name:   "無視される",
		Grade:  "高1",
	})
	require.NoError(t, err)
	assert.Equal(t, CreateResult{ID: "s011", Created: true}, res)

	st := getOne(t, svc, "s011")
	assert.Equal(t, "鈴木一郎", st.Name)
	assert.Equal(t, "高1", st.Grade)
	assert.Equal(t, "推薦", st.Tags)

	res, err = svc.Create(ctx, CreateRequest{Name: "外部生", IDPrefix: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x001", res.ID)
}

func TestUpdate_PreviewThenConfirm(t *testing.T) {
	svc := newTestService(t, fixtureRows())
	ctx := context.Background()

	out, err := svc.Update(ctx, UpdateRequest{
		StudentID: "s001",
		Updates:   map[string]any{"学年": "高3", "タグ": "理系", "unknown": "x"},
	})
	require.NoError(t, err)
	pending, ok := out.(confirm.Pending[UpdatePreview])
	require.True(t, ok)
	assert.Equal(t, map[string]Diff{"学年": {From: "高2", To: "高3"}}, pending.Preview.Diffs)
	assert.Equal(t, "高2", getOne(t, svc, "s001").Grade)

	_, err = svc.Update(ctx, UpdateRequest{StudentID: "s002", ConfirmToken: pending.ConfirmToken})
	assert.Equal(t, api.CodeConfirmMismatch, api.CodeOf(err))

	out, err = svc.Update(ctx, UpdateRequest{StudentID: "s001", ConfirmToken: pending.ConfirmToken})
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{StudentID: "s001", Updated: true}, out)
	assert.Equal(t, "高3", getOne(t, svc, "s001").Grade)

	_, err = svc.Update(ctx, UpdateRequest{StudentID: "s001", ConfirmToken: pending.ConfirmToken})
	assert.Equal(t, api.CodeConfirmExpired, api.CodeOf(err))
}

func TestDelete_PreviewThenConfirm(t *testing.T) {
	svc := newTestService(t, fixtureRows())
	ctx := context.Background()

	out, err := svc.Delete(ctx, DeleteRequest{StudentID: "s002"})
	require.NoError(t, err)
	pending := out.(confirm.Pending[DeletePreview])
	assert.Equal(t, DeletePreview{StudentID: "s002", Row: 3}, pending.Preview)

	out, err = svc.Delete(ctx, DeleteRequest{StudentID: "s002", ConfirmToken: pending.ConfirmToken})
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Deleted: true}, out)

	_, err = svc.Get(ctx, GetRequest{StudentID: "s002"})
	assert.Equal(t, api.CodeNotFound, api.CodeOf(err))
	assert.Equal(t, "山田次郎", getOne(t, svc, "s010").Name)
}

func TestUpdate_FailedWriteKeepsToken(t *testing.T) {
	svc, wb := newFailingService(t, fixtureRows())
	ctx := context.Background()

	out, err := svc.Update(ctx, UpdateRequest{StudentID: "s001", Updates: map[string]any{"学年": "高3"}})
	require.NoError(t, err)
	token := out.(confirm.Pending[UpdatePreview]).ConfirmToken

	wb.fail = errors.New("quota exceeded")
	_, err = svc.Update(ctx, UpdateRequest{StudentID: "s001", ConfirmToken: token})
	assert.ErrorIs(t, err, wb.fail)
	assert.Equal(t, "高2", getOne(t, svc, "s001").Grade)

	wb.fail = nil
	_, err = svc.Update(ctx, UpdateRequest{StudentID: "s001", ConfirmToken: token})
	require.NoError(t, err, "retry with the same token")
	assert.Equal(t, "高3", getOne(t, svc, "s001").Grade)
}

func TestDelete_FailedWriteKeepsToken(t *testing.T) {
	svc, wb := newFailingService(t, fixtureRows())
	ctx := context.Background()

	out, err := svc.Delete(ctx, DeleteRequest{StudentID: "s010"})
	require.NoError(t, err)
	token := out.(confirm.Pending[DeletePreview]).ConfirmToken

	wb.fail = errors.New("backend unavailable")
	_, err = svc.Delete(ctx, DeleteRequest{StudentID: "s010", ConfirmToken: token})
	assert.ErrorIs(t, err, wb.fail)
	assert.Equal(t, "山田次郎", getOne(t, svc, "s010").Name)

	wb.fail = nil
	out, err = svc.Delete(ctx, DeleteRequest{StudentID: "s010", ConfirmToken: token})
	require.NoError(t, err, "retry with the same token")
	assert.Equal(t, DeleteResult{Deleted: true}, out)

	_, err = svc.Delete(ctx, DeleteRequest{StudentID: "s010", ConfirmToken: token})
	assert.Equal(t, api.CodeConfirmExpired, api.CodeOf(err))
}

func TestPlannerID(t *testing.T) {
	svc := newTestService(t, fixtureRows())
	ctx := context.Background()

	id, err := svc.PlannerID(ctx, "s001")
	require.NoError(t, err)
	assert.Equal(t, plannerID1, id)

	id, err = svc.PlannerID(ctx, "s002")
	require.NoError(t, err)
	assert.Equal(t, plannerID2, id)

	_, err = svc.PlannerID(ctx, "s010")
	assert.Equal(t, api.CodeNotFound, api.CodeOf(err))
}

func TestCellText(t *testing.T) {
	assert.Equal(t, "", cellText(nil))
	assert.Equal(t, "3", cellText(3.0))
	assert.Equal(t, "2.5", cellText(2.5))
	assert.Equal(t, "true", cellText(true))
	assert.Equal(t, "x", cellText("x"))
}
