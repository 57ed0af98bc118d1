// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cram

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/books"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/idrules"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/planner"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/search"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
	badgerstore "github.com/ARUOHTA/cram-books-mcp/services/cram/storage/badger"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/students"
)

const (
	booksFile    = "books-file"
	studentsFile = "students-file"
	plannerFile  = "planner-file"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router *gin.Engine
	wb     *sheets.MemoryWorkbook
}

type envelope struct {
	OK    bool            `json:"ok"`
	Op    string          `json:"op"`
	Data  json.RawMessage `json:"data"`
	Error *api.ErrorInfo  `json:"error"`
}

func newTestEnv(t *testing.T, tableRead bool, opts RouterOptions) *testEnv {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mgr := confirm.NewManager(confirm.NewBadgerStore(db, nil), 0)

	wb := sheets.NewMemoryWorkbook()
	wb.PutSheet(booksFile, "参考書マスター", [][]string{
		{"参考書ID", "参考書名", "教科", "月間目標", "単位当たり処理量", "章立て", "章の名前", "章のはじめ", "章の終わり", "番号の数え方"},
		{"gMB001", "青チャート数学IIB", "数学", "1日1時間", "2", "1", "数と式", "1", "50", "問"},
		{"", "", "", "", "", "2", "図形", "51", "100", "問"},
		{"gEC001", "英文解釈の技術100", "英語", "", "", "1", "基礎", "1", "30", "問"},
	})
	wb.PutSheet(studentsFile, "生徒", [][]string{
		{"生徒ID", "氏名", "ふりがな", "学年", "スピードプランナーID"},
		{"s001", "山田太郎", "やまだたろう", "高2", plannerFile},
	})
	wb.PutSheet(plannerFile, "月間管理", [][]string{
		{"コード", "年", "月"},
		{"258gEC001", "25", "8", "", "", "", "gEC001", "英語", "英文解釈"},
		{"259gEC001", "25", "9", "", "", "", "gEC001", "英語", "英文解釈"},
	})

	bookSvc := books.NewService(books.Deps{
		Workbook:    wb,
		Source:      sheets.Ref{SpreadsheetID: booksFile},
		Search:      search.DefaultConfig(),
		Rules:       idrules.DefaultTable(),
		Confirm:     mgr,
		ObserveFind: ObserveFind,
	})
	studentSvc := students.NewService(students.Deps{
		Workbook:    wb,
		Source:      sheets.Ref{SpreadsheetID: studentsFile},
		Search:      search.DefaultConfig(),
		Confirm:     mgr,
		ObserveFind: ObserveFind,
	})
	plannerSvc := planner.NewService(planner.Deps{
		Workbook:     wb,
		Students:     studentSvc,
		WeeklySheet:  "週間管理",
		MonthlySheet: "月間管理",
	})
	h := NewHandlers(Deps{
		Books:           bookSvc,
		Students:        studentSvc,
		Planner:         plannerSvc,
		Workbook:        wb,
		TableSource:     sheets.Ref{SpreadsheetID: booksFile},
		EnableTableRead: tableRead,
	})
	return &testEnv{router: NewRouter(h, opts), wb: wb}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (e *testEnv) post(t *testing.T, body string) envelope {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/cram/exec", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w, env := e.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return env
}

func (e *testEnv) get(t *testing.T, query url.Values) envelope {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/cram/exec?"+query.Encode(), nil)
	w, env := e.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	require.True(t, env.OK, "envelope error: %+v", env.Error)
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// =============================================================================
// Dispatch
// =============================================================================

func TestExec_Ping(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})

	env := e.post(t, `{"op":"ping"}`)
	ping := decodeData[PingResult](t, env)
	assert.Equal(t, "ping", env.Op)
	assert.Equal(t, "ok", ping.Status)
	_, err := time.Parse(time.RFC3339Nano, ping.Timestamp)
	assert.NoError(t, err)

	env = e.get(t, url.Values{"op": {"ping"}})
	assert.Equal(t, "ok", decodeData[PingResult](t, env).Status)
}

func TestExecGet_WithoutOpEchoesParams(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	env := e.get(t, url.Values{"hello": {"world"}})
	out := decodeData[map[string]map[string]string](t, env)
	assert.Equal(t, "ping", env.Op)
	assert.Equal(t, "world", out["params"]["hello"])
}

func TestExec_UnknownOp(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})

	env := e.post(t, `{"op":"books.burn"}`)
	assert.False(t, env.OK)
	assert.Equal(t, "books.burn", env.Op)
	assert.Equal(t, api.CodeUnknownOp, env.Error.Code)

	env = e.post(t, `{}`)
	assert.Equal(t, "unknown", env.Op)
	assert.Equal(t, api.CodeUnknownOp, env.Error.Code)
}

func TestExecPost_BadBody(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	env := e.post(t, `{"op":`)
	assert.False(t, env.OK)
	assert.Equal(t, api.CodeBadRequest, env.Error.Code)

	env = e.post(t, `{"op":"books.find","limit":"many"}`)
	assert.Equal(t, api.CodeBadRequest, env.Error.Code)
}

func TestExecPost_OpFromQuery(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	req := httptest.NewRequest(http.MethodPost, "/v1/cram/exec?op=ping", nil)
	_, env := e.do(t, req)
	assert.True(t, env.OK)
	assert.Equal(t, "ping", env.Op)
}

func TestExec_ValidationFailure(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	env := e.post(t, `{"op":"books.find"}`)
	require.False(t, env.OK)
	assert.Equal(t, api.CodeBadRequest, env.Error.Code)
	assert.Contains(t, env.Error.Message, "query")

	env = e.post(t, `{"op":"books.delete"}`)
	assert.Contains(t, env.Error.Message, "book_id")
}

// =============================================================================
// Books
// =============================================================================

func TestBooksFind(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	res := decodeData[books.FindResult](t, e.post(t, `{"op":"books.find","query":"青チャート"}`))
	require.NotNil(t, res.Top)
	assert.Equal(t, "gMB001", res.Top.BookID)

	res = decodeData[books.FindResult](t, e.get(t, url.Values{"op": {"books.find"}, "query": {"英文解釈"}, "limit": {"1"}}))
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "gEC001", res.Candidates[0].BookID)
}

func TestBooksFind_BadHeaderDetails(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	e.wb.PutSheet(booksFile, "壊れた", [][]string{{"名前", "メモ"}, {"x", "y"}})

	env := e.post(t, `{"op":"books.find","query":"x","sheet":"壊れた"}`)
	require.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, api.CodeBadHeader, env.Error.Code)
	details, ok := env.Error.Details.(map[string]any)
	require.True(t, ok, "details: %#v", env.Error.Details)
	assert.Equal(t, []any{"名前", "メモ"}, details["headers"])
}

func TestBooksGet_RepeatedQueryKey(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})

	res := decodeData[books.GetResult](t, e.get(t, url.Values{
		"op":      {"books.get"},
		"book_id": {"gEC001", "gZZ999", "gMB001"},
	}))
	require.NotNil(t, res.Books)
	require.Len(t, *res.Books, 2)
	assert.Equal(t, "gEC001", (*res.Books)[0].ID)
	assert.Equal(t, "gMB001", (*res.Books)[1].ID)

	res = decodeData[books.GetResult](t, e.get(t, url.Values{"op": {"books.get"}, "book_ids": {"gMB001"}}))
	require.NotNil(t, res.Books)
	assert.Len(t, *res.Books, 1)

	res = decodeData[books.GetResult](t, e.get(t, url.Values{"op": {"books.get"}, "book_id": {"gMB001"}}))
	require.NotNil(t, res.Book)
	assert.Len(t, res.Book.Structure.Chapters, 2)

	env := e.get(t, url.Values{"op": {"books.get"}, "book_id": {"gZZ999"}})
	assert.Equal(t, api.CodeNotFound, env.Error.Code)
}

func TestBooksFilter_QueryMaps(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	q := url.Values{}
	q.Set("op", "books.filter")
	q.Set("where[教科]", "数学")
	q.Set("contains[章の名前]", "図形")
	res := decodeData[books.FilterResult](t, e.get(t, q))
	require.Len(t, res.Books, 1)
	assert.Equal(t, "gMB001", res.Books[0].ID)
}

func TestBooksUpdate_PreviewThenConfirm(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})

	preview := decodeData[struct {
		RequiresConfirmation bool   `json:"requires_confirmation"`
		ConfirmToken         string `json:"confirm_token"`
	}](t, e.post(t, `{"op":"books.update","book_id":"gEC001","updates":{"title":"英文解釈の技術100 新版"}}`))
	require.True(t, preview.RequiresConfirmation)
	require.NotEmpty(t, preview.ConfirmToken)

	done := decodeData[books.UpdateResult](t, e.post(t,
		`{"op":"books.update","book_id":"gEC001","confirm_token":"`+preview.ConfirmToken+`"}`))
	assert.True(t, done.Updated)

	g, err := e.wb.ReadSheet(t.Context(), sheets.Ref{SpreadsheetID: booksFile})
	require.NoError(t, err)
	assert.Equal(t, "英文解釈の技術100 新版", g.Cell(3, 1))

	env := e.post(t, `{"op":"books.update","book_id":"gEC001","confirm_token":"`+preview.ConfirmToken+`"}`)
	assert.Equal(t, api.CodeConfirmExpired, env.Error.Code)
}

// =============================================================================
// Students and Planner
// =============================================================================

func TestStudentsGet_RepeatedQueryKey(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	res := decodeData[students.GetResult](t, e.get(t, url.Values{
		"op":         {"students.get"},
		"student_id": {"s001", "s404"},
	}))
	require.NotNil(t, res.Students)
	require.Len(t, *res.Students, 1)
	assert.Equal(t, "山田太郎", (*res.Students)[0].Name)
}

func TestPlannerMonthlyFilter_ThroughStudent(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	res := decodeData[planner.MonthlyResult](t, e.post(t,
		`{"op":"planner.monthly.filter","student_id":"s001","year":2025,"month":"8"}`))
	assert.Equal(t, 25, res.Year)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "gEC001", res.Items[0].BookID)
	assert.Equal(t, 258, res.Items[0].MonthCode)
}

// =============================================================================
// table.read
// =============================================================================

func TestTableRead_Disabled(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	env := e.post(t, `{"op":"table.read"}`)
	assert.False(t, env.OK)
	assert.Equal(t, api.CodeDisabled, env.Error.Code)
}

func TestTableRead(t *testing.T) {
	e := newTestEnv(t, true, RouterOptions{})
	e.wb.PutSheet(booksFile, "raw", [][]string{
		{"title", "memo"},
		{"", "x", "ignored"},
		{"", ""},
		{"a"},
		{"b", "y"},
	})

	res := decodeData[TableReadResult](t, e.post(t, `{"op":"table.read","sheet":"raw"}`))
	assert.Equal(t, []string{"title", "memo"}, res.Columns)
	require.Equal(t, 3, res.Count)
	assert.Equal(t, map[string]string{"title": "", "memo": "x"}, res.Rows[0])
	assert.Equal(t, map[string]string{"title": "a", "memo": ""}, res.Rows[1])

	res = decodeData[TableReadResult](t, e.post(t, `{"op":"table.read","sheet":"raw","header_row":4}`))
	assert.Equal(t, []string{"a"}, res.Columns)
	assert.Equal(t, 1, res.Count)

	env := e.post(t, `{"op":"table.read","sheet":"raw","header_row":9}`)
	assert.Equal(t, api.CodeBadRequest, env.Error.Code)

	env = e.post(t, `{"op":"table.read","sheet":"nope"}`)
	assert.Equal(t, api.CodeNotFound, env.Error.Code)
}

// =============================================================================
// Middleware
// =============================================================================

func TestAPIKey(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{Auth: NewAPIKeyAuth([]byte("s3cret"))})

	req := httptest.NewRequest(http.MethodGet, "/v1/cram/exec?op=ping", nil)
	w, env := e.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, api.CodeUnauthorized, env.Error.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/cram/exec?op=ping", nil)
	req.Header.Set(HeaderAPIKey, "wrong")
	w, _ = e.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/cram/exec?op=ping", nil)
	req.Header.Set(HeaderAPIKey, "s3cret")
	w, env = e.do(t, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.OK)

	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewAPIKeyAuth_EmptyDisables(t *testing.T) {
	assert.Nil(t, NewAPIKeyAuth(nil))
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(clientIdleTTL + time.Second)
	rl.Allow("c")
	assert.NotContains(t, rl.clients, "a")
	assert.Contains(t, rl.clients, "c")

	assert.Nil(t, NewRateLimiter(0, 5))
}

func TestRateLimiter_Middleware(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{Limiter: NewRateLimiter(0.001, 1)})

	_, env := e.do(t, httptest.NewRequest(http.MethodGet, "/v1/cram/exec?op=ping", nil))
	assert.True(t, env.OK)

	w, env := e.do(t, httptest.NewRequest(http.MethodGet, "/v1/cram/exec?op=ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, api.CodeRateLimited, env.Error.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRequestID(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})

	w, _ := e.do(t, httptest.NewRequest(http.MethodGet, "/v1/cram/exec?op=ping", nil))
	assert.Len(t, w.Header().Get(HeaderRequestID), 36)

	req := httptest.NewRequest(http.MethodGet, "/v1/cram/exec?op=ping", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w, _ = e.do(t, req)
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	e.post(t, `{"op":"ping"}`)
	e.post(t, `{"op":"books.find","query":"青チャート"}`)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `cram_ops_total{code="OK",op="ping"}`)
	assert.Contains(t, body, `cram_find_candidates_count{entity="books"}`)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, false, RouterOptions{})
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "ok", out["status"])
	assert.EqualValues(t, 22, out["ops"])
}

func TestJSONName(t *testing.T) {
	type sample struct {
		BookID    string   `validate:"required"`
		StartDate string   `validate:"required"`
		Query     string   `validate:"required"`
		BookIDs   []string `validate:"required"`
		Tagged    string   `json:"plan_text,omitempty" validate:"required"`
	}
	err := validationError(validate.Struct(sample{}))
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid fields: book_id, start_date, query, book_ids, plan_text", apiErr.Message)
}
