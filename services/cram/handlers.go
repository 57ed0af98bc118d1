// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cram is the HTTP surface of the CRAM service: a single exec
// endpoint that dispatches named operations to the books, students and
// planner services and always answers with an api.Envelope.
package cram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/api"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/books"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/planner"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/students"
)

// MaxBodyBytes bounds POST bodies.
const MaxBodyBytes = 1 << 20

// opUnknown labels requests whose op is missing or unsupported.
const opUnknown = "unknown"

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// opFunc runs one operation. body is nil for GET requests.
type opFunc func(c *gin.Context, body []byte) (any, error)

// Deps are the collaborators of Handlers.
type Deps struct {
	Books    *books.Service
	Students *students.Service
	Planner  *planner.Service

	// Workbook and TableSource serve table.read.
	Workbook    sheets.Workbook
	TableSource sheets.Ref

	// EnableTableRead exposes table.read.
	EnableTableRead bool

	// Logger may be nil.
	Logger *slog.Logger
}

// Handlers serves the exec endpoint.
//
// Thread Safety: Safe for concurrent use. The op table is fixed at
// construction.
type Handlers struct {
	ops       map[string]opFunc
	wb        sheets.Workbook
	tableSrc  sheets.Ref
	tableRead bool
	logger    *slog.Logger
}

// NewHandlers builds the op table from the services in d.
func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &Handlers{
		wb:        d.Workbook,
		tableSrc:  d.TableSource,
		tableRead: d.EnableTableRead,
		logger:    d.Logger,
	}
	h.ops = map[string]opFunc{
		"ping":       h.ping,
		"table.read": bind(h.readTable),
	}
	if b := d.Books; b != nil {
		h.ops["books.find"] = bind(b.Find)
		h.ops["books.get"] = bind(b.Get, bookIDsFromQuery)
		h.ops["books.filter"] = bind(b.Filter, func(c *gin.Context, r *books.FilterRequest) {
			r.Where, r.Contains = queryMaps(c)
		})
		h.ops["books.create"] = bind(b.Create)
		h.ops["books.update"] = bind(b.Update)
		h.ops["books.delete"] = bind(b.Delete)
	}
	if s := d.Students; s != nil {
		h.ops["students.list"] = bind(s.List)
		h.ops["students.find"] = bind(s.Find)
		h.ops["students.get"] = bind(s.Get, studentIDsFromQuery)
		h.ops["students.filter"] = bind(s.Filter, func(c *gin.Context, r *students.FilterRequest) {
			r.Where, r.Contains = queryMaps(c)
		})
		h.ops["students.create"] = bind(s.Create)
		h.ops["students.update"] = bind(s.Update)
		h.ops["students.delete"] = bind(s.Delete)
	}
	if p := d.Planner; p != nil {
		h.ops["planner.ids_list"] = bind(p.IDsList)
		h.ops["planner.dates.get"] = bind(p.DatesGet)
		h.ops["planner.dates.set"] = bind(p.DatesSet)
		h.ops["planner.metrics.get"] = bind(p.MetricsGet)
		h.ops["planner.plan.get"] = bind(p.PlanGet)
		h.ops["planner.plan.set"] = bind(p.PlanSet)
		h.ops["planner.monthly.filter"] = bind(p.MonthlyFilter)
	}
	return h
}

// Ops returns the registered op names.
func (h *Handlers) Ops() []string {
	out := make([]string, 0, len(h.ops))
	for op := range h.ops {
		out = append(out, op)
	}
	return out
}

// =============================================================================
// Binding
// =============================================================================

// bind adapts a typed service method to an opFunc.
//
// Description:
//
//	POST bodies are decoded as JSON into T; the "op" key and any other
//	unknown keys are ignored. GET requests bind the query string through
//	the form tags, then run hooks for shapes a flat query cannot express.
//	The request is validated before fn runs.
func bind[T, R any](fn func(context.Context, T) (R, error), hooks ...func(*gin.Context, *T)) opFunc {
	return func(c *gin.Context, body []byte) (any, error) {
		var req T
		if body != nil {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, api.BadRequest("invalid request body: %v", err)
			}
		} else {
			if err := c.ShouldBindQuery(&req); err != nil {
				return nil, api.BadRequest("invalid query: %v", err)
			}
			for _, hook := range hooks {
				hook(c, &req)
			}
		}
		if err := validate.Struct(req); err != nil {
			return nil, validationError(err)
		}
		return fn(c.Request.Context(), req)
	}
}

// validationError reports every failed field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return api.BadRequest("%v", err)
	}
	fields := make([]map[string]string, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := jsonName(fe)
		names = append(names, name)
		fields = append(fields, map[string]string{"field": name, "rule": fe.Tag()})
	}
	return api.BadRequest("invalid fields: %s", strings.Join(names, ", ")).
		WithDetails(map[string]any{"fields": fields})
}

// jsonName returns the field's json name. Fields without a json tag are
// lower-snaked, e.g. BookID -> book_id and BookIDs -> book_ids.
func jsonName(fe validator.FieldError) string {
	var b strings.Builder
	name := fe.Field()
	isLower := func(i int) bool { return i < len(name) && name[i] >= 'a' && name[i] <= 'z' }
	for i, r := range name {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := isLower(i - 1)
			// A lone trailing "s" pluralizes an acronym rather than starting a word.
			plural := name[i+1:] == "s"
			nextLower := isLower(i+1) && !plural
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// bookIDsFromQuery accepts ?book_id=a&book_id=b as a list.
func bookIDsFromQuery(c *gin.Context, r *books.GetRequest) {
	if ids := c.QueryArray("book_id"); len(r.BookIDs) == 0 && len(ids) > 1 {
		r.BookIDs, r.BookID = ids, ""
	}
}

// studentIDsFromQuery accepts ?student_id=a&student_id=b as a list.
func studentIDsFromQuery(c *gin.Context, r *students.GetRequest) {
	if ids := c.QueryArray("student_id"); len(r.StudentIDs) == 0 && len(ids) > 1 {
		r.StudentIDs, r.StudentID = ids, ""
	}
}

// queryMaps reads where[k]=v and contains[k]=v.
func queryMaps(c *gin.Context) (where, contains map[string]string) {
	if m := c.QueryMap("where"); len(m) > 0 {
		where = m
	}
	if m := c.QueryMap("contains"); len(m) > 0 {
		contains = m
	}
	return where, contains
}

// =============================================================================
// Exec
// =============================================================================

// HandleExecPost handles POST /v1/cram/exec.
//
// Description:
//
//	The body is a JSON object whose "op" names the operation; the
//	remaining keys are its input. A body without op falls back to the op
//	query parameter.
//
// Response:
//
//	200 OK: api.Envelope, successful or not
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleExecPost(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
	if err != nil {
		h.respond(c, opUnknown, api.FromError(opUnknown, api.BadRequest("reading body: %v", err)), 0)
		return
	}
	if len(body) > MaxBodyBytes {
		h.respond(c, opUnknown, api.NG(opUnknown, api.CodeBadRequest, "request body too large", nil), 0)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	var head struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		h.respond(c, opUnknown, api.NG(opUnknown, api.CodeBadRequest, "body is not a JSON object: "+err.Error(), nil), 0)
		return
	}
	op := head.Op
	if op == "" {
		op = c.Query("op")
	}
	h.dispatch(c, op, body)
}

// HandleExecGet handles GET /v1/cram/exec.
//
// Query Parameters:
//
//	op: Operation name. Without it the call is a ping echoing the query.
//	Other parameters are the operation's input.
//
// Response:
//
//	200 OK: api.Envelope, successful or not
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleExecGet(c *gin.Context) {
	op := c.Query("op")
	if op == "" {
		params := make(map[string]string)
		for k, v := range c.Request.URL.Query() {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		h.respond(c, "ping", api.OK("ping", gin.H{"params": params}), 0)
		return
	}
	h.dispatch(c, op, nil)
}

// dispatch runs op and writes its envelope.
func (h *Handlers) dispatch(c *gin.Context, op string, body []byte) {
	fn, ok := h.ops[op]
	if !ok {
		name := op
		if name == "" {
			name = opUnknown
		}
		h.respond(c, opUnknown, api.NG(name, api.CodeUnknownOp, "Unsupported op", nil), 0)
		return
	}
	start := time.Now()
	env := api.Do(op, func() (any, error) { return fn(c, body) })
	h.respond(c, op, env, time.Since(start))
}

// respond records metrics, logs and writes env with 200.
func (h *Handlers) respond(c *gin.Context, label string, env api.Envelope, took time.Duration) {
	code := "OK"
	if !env.OK {
		code = env.Error.Code
	}
	opsTotal.WithLabelValues(label, code).Inc()
	if took > 0 {
		opDuration.WithLabelValues(label).Observe(took.Seconds())
	}

	logger := h.logger.With("request_id", requestID(c), "op", env.Op)
	if sc := oteltrace.SpanFromContext(c.Request.Context()).SpanContext(); sc.HasTraceID() {
		logger = logger.With("trace_id", sc.TraceID().String())
	}
	if env.OK {
		logger.Info("op completed", slog.Duration("took", took))
	} else {
		level := slog.LevelWarn
		if code == api.CodeUncaught || code == api.CodeError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "op failed",
			slog.String("code", code),
			slog.String("message", env.Error.Message),
			slog.Duration("took", took),
		)
	}
	c.JSON(http.StatusOK, env)
}

// HandleHealth handles GET /v1/cram/health.
//
// Response:
//
//	200 OK: {"status": "ok", "ops": n}
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ops": len(h.ops)})
}

// =============================================================================
// Built-in Ops
// =============================================================================

// PingResult is the output of ping.
type PingResult struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (h *Handlers) ping(*gin.Context, []byte) (any, error) {
	return PingResult{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}, nil
}

// TableReadRequest is the input of table.read.
type TableReadRequest struct {
	FileID string `json:"file_id,omitempty" form:"file_id"`
	Sheet  string `json:"sheet,omitempty" form:"sheet"`

	// HeaderRow is 1-based; zero means 1.
	HeaderRow int `json:"header_row,omitempty" form:"header_row" validate:"gte=0"`
}

// TableReadResult is the output of table.read.
type TableReadResult struct {
	Rows    []map[string]string `json:"rows"`
	Columns []string            `json:"columns"`
	Count   int                 `json:"count"`
}

// readTable returns the non-blank rows below the header row as objects
// keyed by header.
func (h *Handlers) readTable(ctx context.Context, req TableReadRequest) (TableReadResult, error) {
	if !h.tableRead {
		return TableReadResult{}, api.Errorf(api.CodeDisabled, "table.read is disabled (set CRAM_ENABLE_TABLE_READ=true)")
	}
	ref := h.tableSrc
	if req.FileID != "" {
		ref.SpreadsheetID = req.FileID
	}
	if req.Sheet != "" {
		ref.Sheet = req.Sheet
	}
	headerRow := max(req.HeaderRow, 1)

	g, err := h.wb.ReadSheet(ctx, ref)
	if err != nil {
		return TableReadResult{}, err
	}
	if headerRow > len(g) {
		return TableReadResult{}, api.BadRequest("header_row %d is beyond the last row (%d)", headerRow, len(g))
	}
	headers := g.Row(headerRow - 1)
	out := TableReadResult{Rows: []map[string]string{}, Columns: headers}
	for _, row := range g.From(headerRow) {
		if strings.Join(row, "") == "" {
			continue
		}
		obj := make(map[string]string, len(headers))
		for i, k := range headers {
			if i < len(row) {
				obj[k] = row[i]
			} else {
				obj[k] = ""
			}
		}
		out.Rows = append(out.Rows, obj)
	}
	out.Count = len(out.Rows)
	return out, nil
}
